// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError 是下游返回非 2xx 时的错误
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 不设置 http.Client 的 Timeout，超时完全由每次请求的 context 控制
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	if resolver == nil {
		resolver = StaticResolver{}
	}
	return &Client{Tracer: tracer, HTTPClient: httpClient, Resolver: resolver}
}

// GetJSON 请求 service 上的 path 并把响应解码到 out
func (c *Client) GetJSON(ctx context.Context, service, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, service, path, query, nil, out)
}

// PostJSON 以 JSON 发送 body，out 非 nil 时解码响应
func (c *Client) PostJSON(ctx context.Context, service, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, service, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, service, path string, query url.Values, body, out any) error {
	base, err := c.Resolver.Resolve(ctx, service)
	if err != nil {
		return err
	}
	target, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	ctx, span := c.Tracer.Start(ctx, fmt.Sprintf("call-%s", service), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target.String()),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := &StatusError{URL: target.String(), StatusCode: resp.StatusCode, Body: string(msg)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to decode response from %s: %w", service, err)
	}
	return nil
}
