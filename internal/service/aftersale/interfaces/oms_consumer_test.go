package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aftersale/internal/pkg/mq"
	"aftersale/internal/service/aftersale/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader 依次返回预置消息，取完后阻塞到 ctx 取消
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// dltWriter 前 failures 次写入返回错误
type dltWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	failures int
	attempts int
}

func (w *dltWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures > 0 {
		w.failures--
		return errors.New("dead letter broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *dltWriter) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

func (w *dltWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// scriptedHandler 按单号返回预置错误，并记录每个单号被处理的次数
type scriptedHandler struct {
	mu    sync.Mutex
	errs  map[string][]error
	calls map[string]int
}

func (h *scriptedHandler) Handle(_ context.Context, ev *domain.OMSEvent) (*domain.Case, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[ev.ReferenceNo]++
	if queue := h.errs[ev.ReferenceNo]; len(queue) > 0 {
		h.errs[ev.ReferenceNo] = queue[1:]
		return nil, queue[0]
	}
	return &domain.Case{ReferenceNo: ev.ReferenceNo, State: domain.StateApproved}, nil
}

func (h *scriptedHandler) Calls(ref string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[ref]
}

func omsMessage(offset int64, body string) kafka.Message {
	return kafka.Message{Topic: OMSEventTopic, Partition: 2, Offset: offset, Key: []byte("k"), Value: []byte(body)}
}

func TestOMSConsumerProcessesAndDeadLetters(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		omsMessage(1, `{"op":"update_status","referenceNo":"OMS-1","status":"approved"}`),
		omsMessage(2, `{"op":"update_status","referenceNo":"OMS-2","status":"approved"}`),
		omsMessage(3, `{"op":"update_status","referenceNo":"OMS-3","status":"approved"}`),
		omsMessage(4, `not json`),
	}}
	handler := &scriptedHandler{
		errs: map[string][]error{
			"OMS-2": {domain.ErrConcurrentModification},
			"OMS-3": {domain.ErrTerminalCase},
		},
		calls: map[string]int{},
	}
	dlt := &dltWriter{}
	failures := mq.NewFailureHandler(dlt, OMSEventDLTTopic, mq.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Retryable:   domain.IsTransient,
	})
	consumer := NewOMSConsumerAdapter(reader, handler, failures)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.Committed(), "every message is committed once handled or dead-lettered")
	assert.Equal(t, 1, handler.Calls("OMS-1"))
	assert.Equal(t, 2, handler.Calls("OMS-2"), "transient failure retried in process")
	assert.Equal(t, 1, handler.Calls("OMS-3"), "business failure goes straight to the dead letter topic")

	dead := dlt.Messages()
	require.Len(t, dead, 2)
	headers := func(m kafka.Message) map[string]string {
		out := map[string]string{}
		for _, h := range m.Headers {
			out[h.Key] = string(h.Value)
		}
		return out
	}
	first := headers(dead[0])
	assert.Equal(t, OMSEventTopic, first[mq.HeaderOriginalTopic])
	assert.Equal(t, "2", first[mq.HeaderOriginalPartition])
	assert.Equal(t, "3", first[mq.HeaderOriginalOffset])
	assert.Equal(t, "1", first[mq.HeaderRetryCount])
	assert.Contains(t, first[mq.HeaderExceptionMessage], "terminal")
	assert.Equal(t, "4", headers(dead[1])[mq.HeaderOriginalOffset])
}

func TestOMSConsumerHoldsOffsetUntilDeadLettered(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		omsMessage(7, `{"op":"update_status","referenceNo":"OMS-7","status":"approved"}`),
	}}
	handler := &scriptedHandler{
		errs:  map[string][]error{"OMS-7": {domain.ErrTerminalCase, domain.ErrTerminalCase, domain.ErrTerminalCase}},
		calls: map[string]int{},
	}
	dlt := &dltWriter{failures: 2}
	consumer := NewOMSConsumerAdapter(reader, handler, mq.NewFailureHandler(dlt, OMSEventDLTTopic, OMSRetryPolicy()))
	consumer.hold = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7}, reader.Committed())
	assert.Equal(t, 3, dlt.Attempts(), "committed only after the third dead letter write")
	assert.Equal(t, 3, handler.Calls("OMS-7"), "message is processed again before each dead letter retry")
	require.Len(t, dlt.Messages(), 1)
}

func TestOMSConsumerLeavesOffsetWhenNothingSettles(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		omsMessage(7, `{"op":"update_status","referenceNo":"OMS-7","status":"approved"}`),
	}}
	dlt := &dltWriter{failures: 1 << 30}
	handler := &scriptedHandler{errs: map[string][]error{}, calls: map[string]int{}}
	for i := 0; i < 1000; i++ {
		handler.errs["OMS-7"] = append(handler.errs["OMS-7"], domain.ErrTerminalCase)
	}
	consumer := NewOMSConsumerAdapter(reader, handler, mq.NewFailureHandler(dlt, OMSEventDLTTopic, OMSRetryPolicy()))
	consumer.hold = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return dlt.Attempts() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.Committed(), "an event that was neither reconciled nor dead-lettered stays uncommitted")
	assert.Empty(t, dlt.Messages())
}

func TestOMSConsumerStop(t *testing.T) {
	reader := &fakeReader{}
	consumer := NewOMSConsumerAdapter(reader, &scriptedHandler{calls: map[string]int{}}, mq.NewFailureHandler(nil, "", mq.RetryPolicy{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
	consumer.Stop(context.Background())
	assert.True(t, reader.closed)
}

func TestDltConsumerCommitsEverything(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: OMSEventDLTTopic, Offset: 7, Value: []byte(`{}`), Headers: []kafka.Header{{Key: mq.HeaderExceptionMessage, Value: []byte("boom")}}},
		{Topic: OMSEventDLTTopic, Offset: 8, Value: []byte(`{}`)},
	}}
	consumer := NewDltConsumerAdapter(reader)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{7, 8}, reader.Committed())
}

func TestDecodeOMSEvent(t *testing.T) {
	ev, err := DecodeOMSEvent([]byte(`{"op":"update_info","referenceNo":"OMS-1","description":"","refundAmount":"12.50","contactName":null}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OMSUpdateInfo, ev.Op)
	assert.True(t, ev.Has(domain.OMSFieldDescription))
	assert.True(t, ev.Has(domain.OMSFieldRequestedAmount))
	assert.False(t, ev.Has(domain.OMSFieldContactName))
	assert.Equal(t, "12.5", ev.RequestedAmount.String())

	_, err = DecodeOMSEvent([]byte(`{"op":"merge","referenceNo":"OMS-1"}`))
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = DecodeOMSEvent([]byte(`{"op":`))
	assert.True(t, errors.As(err, &verr))
}
