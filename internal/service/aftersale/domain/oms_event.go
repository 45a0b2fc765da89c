// internal/service/aftersale/domain/oms_event.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OMSOperation 是 OMS 推送的三种操作
type OMSOperation string

const (
	OMSCreate       OMSOperation = "create"
	OMSUpdateStatus OMSOperation = "update_status"
	OMSUpdateInfo   OMSOperation = "update_info"
)

func (o OMSOperation) Valid() bool {
	switch o {
	case OMSCreate, OMSUpdateStatus, OMSUpdateInfo:
		return true
	}
	return false
}

// OMS 载荷的 JSON 字段名，FieldSet 以它们为键
const (
	OMSFieldStatus          = "status"
	OMSFieldType            = "type"
	OMSFieldReason          = "reason"
	OMSFieldOrderNo         = "orderNo"
	OMSFieldOrderLineNo     = "orderLineNo"
	OMSFieldContactName     = "contactName"
	OMSFieldContactPhone    = "contactPhone"
	OMSFieldDescription     = "description"
	OMSFieldQuantity        = "quantity"
	OMSFieldRequestedAmount = "refundAmount"
	OMSFieldActualAmount    = "actualAmount"
	OMSFieldAuditNote       = "auditNote"
	OMSFieldServiceNote     = "serviceNote"
	OMSFieldSnapshot        = "product"

	// 物流和地址，随状态推送一起到达，合并进子流程记录
	OMSFieldCarrier          = "carrier"
	OMSFieldTrackingNo       = "trackingNo"
	OMSFieldReturnAddress    = "returnAddress"
	OMSFieldReshipCarrier    = "reshipCarrier"
	OMSFieldReshipTrackingNo = "reshipTrackingNo"
	OMSFieldShippingAddress  = "shippingAddress"
)

// omsShipmentFields 出现任意一个即需要合并子流程记录
var omsShipmentFields = []string{
	OMSFieldCarrier, OMSFieldTrackingNo, OMSFieldReturnAddress,
	OMSFieldReshipCarrier, OMSFieldReshipTrackingNo, OMSFieldShippingAddress,
}

// FieldSet 记录载荷中实际出现的字段
type FieldSet map[string]struct{}

func (f FieldSet) Has(field string) bool {
	_, ok := f[field]
	return ok
}

func NewFieldSet(fields ...string) FieldSet {
	fs := make(FieldSet, len(fields))
	for _, f := range fields {
		fs[f] = struct{}{}
	}
	return fs
}

// OMSEvent 是 OMS 推送的类型化事件
type OMSEvent struct {
	EventID     string       `json:"eventId"`
	Op          OMSOperation `json:"op"`
	ReferenceNo string       `json:"referenceNo"`
	OccurredAt  time.Time    `json:"occurredAt"`

	Status          string           `json:"status"`
	Type            string           `json:"type"`
	Reason          string           `json:"reason"`
	OrderNo         string           `json:"orderNo"`
	OrderLineNo     string           `json:"orderLineNo"`
	ContactName     string           `json:"contactName"`
	ContactPhone    string           `json:"contactPhone"`
	Description     string           `json:"description"`
	Quantity        int              `json:"quantity"`
	RequestedAmount decimal.Decimal  `json:"refundAmount"`
	ActualAmount    decimal.Decimal  `json:"actualAmount"`
	AuditNote       string           `json:"auditNote"`
	ServiceNote     string           `json:"serviceNote"`
	Snapshot        *ProductSnapshot `json:"product"`

	Carrier          string `json:"carrier"`
	TrackingNo       string `json:"trackingNo"`
	ReturnAddress    string `json:"returnAddress"`
	ReshipCarrier    string `json:"reshipCarrier"`
	ReshipTrackingNo string `json:"reshipTrackingNo"`
	ShippingAddress  string `json:"shippingAddress"`

	Fields FieldSet `json:"-"`
}

// UnmarshalJSON 解析字段的同时记录出现过的键，null 视为未出现
func (e *OMSEvent) UnmarshalJSON(data []byte) error {
	type alias OMSEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = OMSEvent(a)
	e.Fields = make(FieldSet, len(raw))
	for k, v := range raw {
		if string(v) == "null" {
			continue
		}
		e.Fields[k] = struct{}{}
	}
	return nil
}

// Has 手工构造的事件没有 FieldSet 时，视为所有非零字段都存在
func (e *OMSEvent) Has(field string) bool {
	if e.Fields != nil {
		return e.Fields.Has(field)
	}
	switch field {
	case OMSFieldStatus:
		return e.Status != ""
	case OMSFieldType:
		return e.Type != ""
	case OMSFieldReason:
		return e.Reason != ""
	case OMSFieldOrderNo:
		return e.OrderNo != ""
	case OMSFieldOrderLineNo:
		return e.OrderLineNo != ""
	case OMSFieldContactName:
		return e.ContactName != ""
	case OMSFieldContactPhone:
		return e.ContactPhone != ""
	case OMSFieldDescription:
		return e.Description != ""
	case OMSFieldQuantity:
		return e.Quantity != 0
	case OMSFieldRequestedAmount:
		return !e.RequestedAmount.IsZero()
	case OMSFieldActualAmount:
		return !e.ActualAmount.IsZero()
	case OMSFieldAuditNote:
		return e.AuditNote != ""
	case OMSFieldServiceNote:
		return e.ServiceNote != ""
	case OMSFieldSnapshot:
		return e.Snapshot != nil
	case OMSFieldCarrier:
		return e.Carrier != ""
	case OMSFieldTrackingNo:
		return e.TrackingNo != ""
	case OMSFieldReturnAddress:
		return e.ReturnAddress != ""
	case OMSFieldReshipCarrier:
		return e.ReshipCarrier != ""
	case OMSFieldReshipTrackingNo:
		return e.ReshipTrackingNo != ""
	case OMSFieldShippingAddress:
		return e.ShippingAddress != ""
	}
	return false
}

// HasShipment 载荷是否携带物流或地址信息
func (e *OMSEvent) HasShipment() bool {
	for _, f := range omsShipmentFields {
		if e.Has(f) {
			return true
		}
	}
	return false
}
