package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

var errFlaky = errors.New("flaky")

func retryFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestFailureHandlerRetriesThenSucceeds(t *testing.T) {
	dlt := &memWriter{}
	h := NewFailureHandler(dlt, "dlt", RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: retryFlaky})

	calls := 0
	process := func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errFlaky
		}
		return nil
	}
	require.NoError(t, h.Handle(context.Background(), kafka.Message{Offset: 5}, errFlaky, process))
	assert.Equal(t, 2, calls)
	assert.Empty(t, dlt.msgs)
}

func TestFailureHandlerDeadLettersAfterMaxAttempts(t *testing.T) {
	dlt := &memWriter{}
	h := NewFailureHandler(dlt, "dlt", RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: retryFlaky})

	calls := 0
	process := func(context.Context, kafka.Message) error {
		calls++
		return errFlaky
	}
	msg := kafka.Message{
		Topic: "orders", Partition: 1, Offset: 42,
		Key: []byte("k"), Value: []byte("v"),
		Headers: []kafka.Header{{Key: "traceparent", Value: []byte("tp")}},
	}
	require.NoError(t, h.Handle(context.Background(), msg, errFlaky, process))

	assert.Equal(t, 2, calls, "first attempt happened before Handle")
	require.Len(t, dlt.msgs, 1)
	dead := dlt.msgs[0]
	assert.Equal(t, "k", string(dead.Key))
	assert.Equal(t, "v", string(dead.Value))
	assert.Equal(t, "tp", header(dead, "traceparent"))
	assert.Equal(t, "orders", header(dead, HeaderOriginalTopic))
	assert.Equal(t, "1", header(dead, HeaderOriginalPartition))
	assert.Equal(t, "42", header(dead, HeaderOriginalOffset))
	assert.Equal(t, "3", header(dead, HeaderRetryCount))
	assert.Equal(t, "flaky", header(dead, HeaderExceptionMessage))
	assert.Equal(t, "*errors.errorString", header(dead, HeaderExceptionFqcn))
}

func TestFailureHandlerSkipsRetryForPermanentErrors(t *testing.T) {
	dlt := &memWriter{}
	h := NewFailureHandler(dlt, "dlt", RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond, Retryable: retryFlaky})

	called := false
	err := h.Handle(context.Background(), kafka.Message{}, errors.New("bad payload"), func(context.Context, kafka.Message) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	require.Len(t, dlt.msgs, 1)
	assert.Equal(t, "1", header(dlt.msgs[0], HeaderRetryCount))
}

func TestFailureHandlerStopsOnCancel(t *testing.T) {
	dlt := &memWriter{}
	h := NewFailureHandler(dlt, "dlt", RetryPolicy{MaxAttempts: 5, Backoff: time.Hour, Retryable: retryFlaky})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Handle(ctx, kafka.Message{}, errFlaky, func(context.Context, kafka.Message) error { return errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dlt.msgs, "shutdown leaves the message uncommitted for redelivery")
}

func TestFailureHandlerWithoutDLT(t *testing.T) {
	h := NewFailureHandler(nil, "", RetryPolicy{})
	var err error
	assert.NotPanics(t, func() {
		err = h.Handle(context.Background(), kafka.Message{}, errors.New("x"), nil)
	})
	assert.ErrorIs(t, err, ErrNoDeadLetter)
}

func TestFailureHandlerReportsDeadLetterWriteFailure(t *testing.T) {
	brokerDown := errors.New("broker down")
	dlt := &memWriter{err: brokerDown}
	h := NewFailureHandler(dlt, "dlt", RetryPolicy{MaxAttempts: 1})

	err := h.Handle(context.Background(), kafka.Message{Offset: 7}, errors.New("terminal"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerDown)
	assert.Empty(t, dlt.msgs)
}

func TestTraceContextRoundTrip(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	var headers []kafka.Header
	carrier := KafkaHeaderCarrier(headers)
	prop.Inject(ctx, &carrier)
	headers = carrier
	require.NotEmpty(t, headers)

	got := KafkaHeaderCarrier(headers)
	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), &got))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
}

func TestKafkaHeaderCarrierSetReplaces(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")
	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestProduceMessage(t *testing.T) {
	w := &memWriter{}
	require.NoError(t, ProduceMessage(context.Background(), w, []byte("key"), []byte("value")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "key", string(w.msgs[0].Key))
	assert.False(t, w.msgs[0].Time.IsZero())

	w.err = errors.New("down")
	assert.Error(t, ProduceMessage(context.Background(), w, nil, nil))
}
