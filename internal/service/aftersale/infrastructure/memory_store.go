package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"aftersale/internal/service/aftersale/domain"
)

// memState 中的值写入后不再原地修改，复制 map 即可得到一致的快照
type memState struct {
	cases     map[string]*domain.Case
	refs      map[string]string
	refunds   map[string]*domain.RefundExecution
	returns   map[string]*domain.ReturnShipment
	exchanges map[string]*domain.ExchangeShipment
	audit     []*domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		cases:     map[string]*domain.Case{},
		refs:      map[string]string{},
		refunds:   map[string]*domain.RefundExecution{},
		returns:   map[string]*domain.ReturnShipment{},
		exchanges: map[string]*domain.ExchangeShipment{},
	}
}

func (s *memState) clone() *memState {
	next := &memState{
		cases:     make(map[string]*domain.Case, len(s.cases)),
		refs:      make(map[string]string, len(s.refs)),
		refunds:   make(map[string]*domain.RefundExecution, len(s.refunds)),
		returns:   make(map[string]*domain.ReturnShipment, len(s.returns)),
		exchanges: make(map[string]*domain.ExchangeShipment, len(s.exchanges)),
		audit:     append([]*domain.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.cases {
		next.cases[k] = v
	}
	for k, v := range s.refs {
		next.refs[k] = v
	}
	for k, v := range s.refunds {
		next.refunds[k] = v
	}
	for k, v := range s.returns {
		next.returns[k] = v
	}
	for k, v := range s.exchanges {
		next.exchanges[k] = v
	}
	return next
}

// MemoryStore 是 domain.Store 的内存实现，单元之间串行执行，
// 单元内的修改在提交前对外不可见。用于测试和本地运行。
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &memTx{state: func() *memState { return work }}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Cases() domain.CaseRepository           { return s.direct() }
func (s *MemoryStore) Satellites() domain.SatelliteRepository { return s.direct() }
func (s *MemoryStore) Audit() domain.AuditRepository          { return s.direct() }

// direct 返回事务外的访问视图，每次调用单独加锁
func (s *MemoryStore) direct() *memTx {
	return &memTx{state: func() *memState { return s.state }, mu: &s.mu}
}

type memTx struct {
	state func() *memState
	mu    *sync.Mutex
}

func (t *memTx) Cases() domain.CaseRepository           { return t }
func (t *memTx) Satellites() domain.SatelliteRepository { return t }
func (t *memTx) Audit() domain.AuditRepository          { return t }

func (t *memTx) guard() func() {
	if t.mu == nil {
		return func() {}
	}
	t.mu.Lock()
	return t.mu.Unlock
}

func (t *memTx) Create(_ context.Context, c *domain.Case) error {
	defer t.guard()()
	st := t.state()
	if _, ok := st.refs[c.ReferenceNo]; ok {
		return domain.ErrReferenceExists
	}
	if _, ok := st.cases[c.ID]; ok {
		return domain.ErrReferenceExists
	}
	st.cases[c.ID] = c.Clone()
	st.refs[c.ReferenceNo] = c.ID
	return nil
}

func (t *memTx) Get(_ context.Context, id string) (*domain.Case, error) {
	defer t.guard()()
	c, ok := t.state().cases[id]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return c.Clone(), nil
}

func (t *memTx) GetByReference(_ context.Context, referenceNo string) (*domain.Case, error) {
	defer t.guard()()
	st := t.state()
	id, ok := st.refs[referenceNo]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return st.cases[id].Clone(), nil
}

func (t *memTx) Update(_ context.Context, c *domain.Case) error {
	defer t.guard()()
	st := t.state()
	cur, ok := st.cases[c.ID]
	if !ok {
		return domain.ErrCaseNotFound
	}
	if cur.Version != c.Version {
		return domain.ErrConcurrentModification
	}
	c.Version++
	st.cases[c.ID] = c.Clone()
	return nil
}

func (t *memTx) ListExpired(_ context.Context, states []domain.State, now time.Time, limit int) ([]*domain.Case, error) {
	defer t.guard()()
	wanted := make(map[domain.State]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}
	var out []*domain.Case
	for _, c := range t.state().cases {
		if wanted[c.State] && c.DeadlineElapsed(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(*out[j].DeadlineAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) GetRefund(_ context.Context, caseID string) (*domain.RefundExecution, error) {
	defer t.guard()()
	r, ok := t.state().refunds[caseID]
	if !ok {
		return nil, domain.ErrSatelliteNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) SaveRefund(_ context.Context, r *domain.RefundExecution) error {
	defer t.guard()()
	cp := *r
	t.state().refunds[r.CaseID] = &cp
	return nil
}

func (t *memTx) GetReturnShipment(_ context.Context, caseID string) (*domain.ReturnShipment, error) {
	defer t.guard()()
	s, ok := t.state().returns[caseID]
	if !ok {
		return nil, domain.ErrSatelliteNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) SaveReturnShipment(_ context.Context, s *domain.ReturnShipment) error {
	defer t.guard()()
	cp := *s
	t.state().returns[s.CaseID] = &cp
	return nil
}

func (t *memTx) GetExchangeShipment(_ context.Context, caseID string) (*domain.ExchangeShipment, error) {
	defer t.guard()()
	s, ok := t.state().exchanges[caseID]
	if !ok {
		return nil, domain.ErrSatelliteNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) SaveExchangeShipment(_ context.Context, s *domain.ExchangeShipment) error {
	defer t.guard()()
	cp := *s
	t.state().exchanges[s.CaseID] = &cp
	return nil
}

func (t *memTx) Append(_ context.Context, e *domain.AuditEntry) error {
	defer t.guard()()
	st := t.state()
	cp := *e
	cp.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	st.audit = append(st.audit, &cp)
	return nil
}

func (t *memTx) ListByCase(_ context.Context, caseID string) ([]*domain.AuditEntry, error) {
	defer t.guard()()
	var out []*domain.AuditEntry
	for _, e := range t.state().audit {
		if e.CaseID == caseID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	defer t.guard()()
	st := t.state()
	kept := st.audit[:0:0]
	for _, e := range st.audit {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	purged := int64(len(st.audit) - len(kept))
	st.audit = kept
	return purged, nil
}
