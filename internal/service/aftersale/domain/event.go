// internal/service/aftersale/domain/event.go
package domain

import "time"

// EventType 是发布给下游的领域事件类型
type EventType string

const (
	EventCaseCreated       EventType = "CASE_CREATED"
	EventStatusChanged     EventType = "CASE_STATUS_CHANGED"
	EventProcessingStarted EventType = "CASE_PROCESSING_STARTED"
	EventCaseCompleted     EventType = "CASE_COMPLETED"
	EventCaseCancelled     EventType = "CASE_CANCELLED"
)

// CaseEvent 在事务提交后发布，发布失败不影响主流程
type CaseEvent struct {
	EventID     string    `json:"eventId"`
	Type        EventType `json:"type"`
	CaseID      string    `json:"caseId"`
	ReferenceNo string    `json:"referenceNo"`
	UserID      string    `json:"userId,omitempty"`
	CaseType    CaseType  `json:"caseType"`
	FromState   State     `json:"fromState,omitempty"`
	ToState     State     `json:"toState"`
	Stage       Stage     `json:"stage"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func newCaseEvent(t EventType, c *Case, from State, now time.Time) CaseEvent {
	return CaseEvent{
		EventID:     c.ID + ":" + string(t) + ":" + now.Format(time.RFC3339Nano),
		Type:        t,
		CaseID:      c.ID,
		ReferenceNo: c.ReferenceNo,
		UserID:      c.UserID,
		CaseType:    c.Type,
		FromState:   from,
		ToState:     c.State,
		Stage:       c.Stage,
		OccurredAt:  now,
	}
}

func CreatedEvent(c *Case, now time.Time) CaseEvent {
	return newCaseEvent(EventCaseCreated, c, "", now)
}

// TransitionEvents 根据一次流转推导出需要发布的事件
func TransitionEvents(c *Case, tr Transition, now time.Time) []CaseEvent {
	if tr.From == tr.To {
		return nil
	}
	events := []CaseEvent{newCaseEvent(EventStatusChanged, c, tr.From, now)}
	switch tr.To {
	case StateApproved:
		events = append(events, newCaseEvent(EventProcessingStarted, c, tr.From, now))
	case StateCompleted:
		events = append(events, newCaseEvent(EventCaseCompleted, c, tr.From, now))
	case StateCancelled:
		events = append(events, newCaseEvent(EventCaseCancelled, c, tr.From, now))
	}
	return events
}
