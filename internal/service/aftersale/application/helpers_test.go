package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"aftersale/internal/pkg/idgen"
	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"
	"aftersale/internal/service/aftersale/infrastructure"
	"aftersale/internal/service/aftersale/infrastructure/adapter"
	"aftersale/internal/service/aftersale/infrastructure/rule"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.CaseEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeCatalog struct {
	snapshot domain.ProductSnapshot
	err      error
}

func (f *fakeCatalog) Snapshot(context.Context, string, string) (domain.ProductSnapshot, error) {
	return f.snapshot, f.err
}

type fakeUsers map[string]string

func (f fakeUsers) FindByPhone(_ context.Context, phone string) (string, error) {
	if id, ok := f[phone]; ok {
		return id, nil
	}
	return "", port.ErrUserNotFound
}

// scriptedRefunds 依次返回预设结果，用完后重复最后一个
type scriptedRefunds struct {
	mu      sync.Mutex
	results []port.RefundResult
	errs    []error
	calls   []port.RefundRequest
}

func (s *scriptedRefunds) Refund(_ context.Context, req port.RefundRequest) (port.RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, req)
	var err error
	if len(s.errs) > 0 {
		err = s.errs[min(i, len(s.errs)-1)]
	}
	var res port.RefundResult
	if len(s.results) > 0 {
		res = s.results[min(i, len(s.results)-1)]
	}
	return res, err
}

// memClaimer 进程内的认领器，模拟多实例共享的 Redis 锁
type memClaimer struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemClaimer() *memClaimer { return &memClaimer{held: map[string]bool{}} }

func (m *memClaimer) Claim(_ context.Context, caseID string, _ time.Duration) (port.ReleaseFunc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[caseID] {
		return nil, false, nil
	}
	m.held[caseID] = true
	var once sync.Once
	return func(context.Context) {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, caseID)
			m.mu.Unlock()
		})
	}, true, nil
}

type harness struct {
	store     *infrastructure.MemoryStore
	clock     *testClock
	publisher *recordingPublisher
	catalog   *fakeCatalog
	users     fakeUsers
	refunds   *scriptedRefunds
	policy    application.Policy
	deps      application.Dependencies

	service    *application.CaseService
	reconciler *application.Reconciler
}

type harnessOption func(h *harness)

func withAutoApproval() harnessOption {
	return func(h *harness) {
		h.policy.AutoApproval.Enabled = true
	}
}

func withPolicy(fn func(p *application.Policy)) harnessOption {
	return func(h *harness) { fn(&h.policy) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:     infrastructure.NewMemoryStore(),
		clock:     &testClock{now: t0},
		publisher: &recordingPublisher{},
		catalog: &fakeCatalog{snapshot: domain.ProductSnapshot{
			SkuID:       "SKU-1",
			ProductName: "Ceramic mug",
			UnitPrice:   decimal.NewFromInt(150),
			PaidAmount:  decimal.NewFromInt(300),
		}},
		users:   fakeUsers{"13800000000": "user-42"},
		refunds: &scriptedRefunds{results: []port.RefundResult{{Success: true, TxnID: "TXN-1"}}},
		policy:  application.DefaultPolicy(),
	}
	h.policy.AutoApproval.Enabled = false
	h.policy.Unit.Backoff = 0
	for _, opt := range opts {
		opt(h)
	}
	require.NoError(t, h.policy.Validate())

	refs, err := idgen.New("AS", 1)
	require.NoError(t, err)
	var approval application.ApprovalRule
	if h.policy.AutoApproval.Enabled {
		approval, err = rule.NewCELApprovalRule(h.policy.AutoApproval.Expression)
		require.NoError(t, err)
	}
	h.deps = application.Dependencies{
		Store:      h.store,
		Catalog:    h.catalog,
		Users:      h.users,
		Validator:  adapter.NewPlaygroundValidator(),
		Publisher:  h.publisher,
		Refunds:    h.refunds,
		Approval:   approval,
		References: refs,
		Clock:      h.clock.Now,
	}
	h.service = application.NewCaseService(h.deps, h.policy)
	h.reconciler = application.NewReconciler(h.deps, h.policy)
	return h
}

func (h *harness) sweeper(claimer port.CaseClaimer) *application.Sweeper {
	return application.NewSweeper(h.deps, claimer, h.policy)
}

var customer = domain.Actor{Type: domain.ActorUser, ID: "user-42"}
var operator = domain.Actor{Type: domain.ActorOperator, ID: "op-7"}

func refundRequest(t domain.CaseType, amount int64) *application.CreateCaseRequest {
	return &application.CreateCaseRequest{
		OrderNo:         "ORD-1001",
		OrderLineNo:     "1",
		UserID:          "user-42",
		ContactName:     "Li Lei",
		ContactPhone:    "13800000000",
		Type:            t,
		Reason:          domain.ReasonQualityIssue,
		Description:     "cracked on arrival",
		Quantity:        1,
		RequestedAmount: decimal.NewFromInt(amount),
	}
}

func (h *harness) create(t *testing.T, req *application.CreateCaseRequest) *domain.Case {
	t.Helper()
	c, err := h.service.Create(context.Background(), req, customer)
	require.NoError(t, err)
	return c
}

func (h *harness) perform(t *testing.T, id string, actions ...domain.Action) *domain.Case {
	t.Helper()
	var c *domain.Case
	for _, a := range actions {
		var err error
		c, err = h.service.Perform(context.Background(), id, a, "", operator)
		require.NoError(t, err, "perform %s", a)
	}
	return c
}

func (h *harness) history(t *testing.T, id string) []domain.AuditAction {
	t.Helper()
	entries, err := h.service.History(context.Background(), id)
	require.NoError(t, err)
	out := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}
