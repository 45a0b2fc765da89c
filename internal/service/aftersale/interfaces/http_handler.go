package interfaces

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/metrics"
	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/domain"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-Id"
	maxBodyBytes    = 1 << 20
)

// CaseHandler 封装了售后服务的 HTTP 处理器
type CaseHandler struct {
	service    *application.CaseService
	reconciler *application.Reconciler
	stream     http.Handler
}

// NewCaseHandler 创建一个新的 HTTP 处理器实例，stream 为 nil 时不提供事件推送
func NewCaseHandler(service *application.CaseService, reconciler *application.Reconciler, stream http.Handler) *CaseHandler {
	return &CaseHandler{service: service, reconciler: reconciler, stream: stream}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CaseHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /aftersale/cases", h.create)
	mux.HandleFunc("GET /aftersale/cases/{id}", h.get)
	mux.HandleFunc("GET /aftersale/cases/by-reference/{ref}", h.getByReference)
	mux.HandleFunc("GET /aftersale/cases/{id}/actions", h.allowedActions)
	mux.HandleFunc("POST /aftersale/cases/{id}/actions", h.perform)
	mux.HandleFunc("GET /aftersale/cases/{id}/history", h.history)
	mux.HandleFunc("PUT /aftersale/cases/{id}/amount", h.modifyAmount)
	mux.HandleFunc("PUT /aftersale/cases/{id}/application", h.modifyApplication)
	mux.HandleFunc("POST /aftersale/cases/{id}/notes", h.annotate)
	mux.HandleFunc("POST /aftersale/cases/{id}/return-shipment", h.submitReturnShipment)
	mux.HandleFunc("POST /aftersale/cases/{id}/replacement-shipment", h.shipReplacement)
	mux.HandleFunc("POST /aftersale/cases/{id}/refund", h.executeRefund)

	if h.reconciler != nil {
		mux.HandleFunc("POST /oms/events", h.omsEvent)
	}
	if h.stream != nil {
		mux.Handle("GET /aftersale/stream", h.stream)
	}
}

func (h *CaseHandler) create(w http.ResponseWriter, r *http.Request) {
	var req application.CreateCaseRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.Create(r.Context(), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.NewCaseView(c))
}

func (h *CaseHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) getByReference(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetByReference(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) allowedActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.AllowedActions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *CaseHandler) perform(w http.ResponseWriter, r *http.Request) {
	var req application.ActionRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.Perform(r.Context(), r.PathValue("id"), req.Action, req.Note, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) history(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": application.NewAuditEntryViews(entries)})
}

func (h *CaseHandler) modifyAmount(w http.ResponseWriter, r *http.Request) {
	var req application.ModifyAmountRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.ModifyAmount(r.Context(), r.PathValue("id"), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) modifyApplication(w http.ResponseWriter, r *http.Request) {
	var req application.ModifyApplicationRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.ModifyApplication(r.Context(), r.PathValue("id"), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) annotate(w http.ResponseWriter, r *http.Request) {
	var req application.AnnotateRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.Annotate(r.Context(), r.PathValue("id"), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) submitReturnShipment(w http.ResponseWriter, r *http.Request) {
	var req application.ShipmentRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.SubmitReturnShipment(r.Context(), r.PathValue("id"), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

func (h *CaseHandler) shipReplacement(w http.ResponseWriter, r *http.Request) {
	var req application.ShipmentRequest
	if !decode(w, r, &req) {
		return
	}
	es, err := h.service.ShipReplacement(r.Context(), r.PathValue("id"), &req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             es.Status,
		"reship_carrier":     es.ReshipCarrier,
		"reship_tracking_no": es.ReshipTrackingNo,
	})
}

func (h *CaseHandler) executeRefund(w http.ResponseWriter, r *http.Request) {
	exec, err := h.service.ExecuteRefund(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewRefundView(exec))
}

// omsEvent 是 Kafka 之外的同步推送入口，语义与消费者一致
func (h *CaseHandler) omsEvent(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		writeError(w, r, domain.NewValidationError([]domain.Violation{{Field: "body", Rule: "json", Message: err.Error()}}))
		return
	}
	ev, err := DecodeOMSEvent(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.reconciler.Handle(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewCaseView(c))
}

// actorFrom 网关在请求头中注入操作人，缺省视为用户本人
func actorFrom(r *http.Request) domain.Actor {
	actor := domain.Actor{Type: domain.ActorUser, ID: r.Header.Get(headerActorID)}
	switch t := domain.ActorType(r.Header.Get(headerActorType)); t {
	case domain.ActorOperator, domain.ActorSystem:
		actor.Type = t
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	return actor
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeError(w, r, domain.NewValidationError([]domain.Violation{{Field: "body", Rule: "json", Message: err.Error()}}))
		return false
	}
	return true
}

type errorBody struct {
	Error      string             `json:"error"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		illegal    *domain.IllegalTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCaseNotFound), errors.Is(err, domain.ErrSatelliteNotFound):
		return http.StatusNotFound
	case errors.As(err, &illegal),
		errors.Is(err, domain.ErrReferenceExists),
		errors.Is(err, domain.ErrTerminalCase),
		errors.Is(err, domain.ErrModificationCapExceeded),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrRefundInProgress),
		errors.Is(err, domain.ErrRefundNotRetryable),
		errors.Is(err, domain.ErrSnapshotImmutable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAmountCapExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrActionNeedsPayload), errors.Is(err, domain.ErrSatelliteMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		body.Violations = validation.Violations
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("❌ Request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack WebSocket 升级需要接管底层连接
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap 让 http.ResponseController 和 WebSocket 升级可以拿到原始 ResponseWriter
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Instrument 提取上游追踪上下文并记录请求指标，路由标签使用 ServeMux 匹配到的模式
func Instrument(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = logger.WithContext(ctx)
		r = r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
