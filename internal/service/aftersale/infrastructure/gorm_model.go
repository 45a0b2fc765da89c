package infrastructure

import (
	"time"

	"aftersale/internal/service/aftersale/domain"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CaseModel 对应数据库中的 aftersale_case 表
type CaseModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	ReferenceNo  string `gorm:"size:64;uniqueIndex"`
	OrderNo      string `gorm:"size:64;index"`
	OrderLineNo  string `gorm:"size:64"`
	UserID       string `gorm:"size:64;index"`
	ContactName  string `gorm:"size:64"`
	ContactPhone string `gorm:"size:32"`

	Type        string `gorm:"size:32"`
	Reason      string `gorm:"size:32"`
	Description string `gorm:"type:text"`
	Quantity    int

	// 超时扫描按 (state, deadline_at) 查询
	State string `gorm:"size:32;index:idx_case_state_deadline,priority:1"`
	Stage string `gorm:"size:16"`

	RequestedAmount decimal.Decimal `gorm:"type:decimal(12,2)"`
	ApprovedAmount  decimal.Decimal `gorm:"type:decimal(12,2)"`
	ActualAmount    decimal.Decimal `gorm:"type:decimal(12,2)"`
	AmountModified  bool

	ModificationCount int
	NeedsReview       bool
	DeadlineAt        *time.Time `gorm:"index:idx_case_state_deadline,priority:2"`

	AuditNote   string `gorm:"type:text"`
	ServiceNote string `gorm:"type:text"`

	Snapshot datatypes.JSONType[domain.ProductSnapshot]
	Source   string `gorm:"size:16"`
	Version  int64

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

// TableName 指定 GORM 应该使用的表名
func (CaseModel) TableName() string {
	return "aftersale_case"
}

// RefundExecutionModel 对应 aftersale_refund 表，每个售后单最多一条。
// 子流程表都通过 case_id 外键挂在售后单上，删除售后单时级联删除
type RefundExecutionModel struct {
	ID           string          `gorm:"primaryKey;size:36"`
	CaseID       string          `gorm:"size:36;uniqueIndex"`
	Status       string          `gorm:"size:16"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2)"`
	RetryCount   int
	GatewayTxnID string `gorm:"size:64"`
	LastError    string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`

	Case *CaseModel `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`
}

func (RefundExecutionModel) TableName() string {
	return "aftersale_refund"
}

// ReturnShipmentModel 对应 aftersale_return_shipment 表
type ReturnShipmentModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	CaseID        string `gorm:"size:36;uniqueIndex"`
	Status        string `gorm:"size:32"`
	Carrier       string `gorm:"size:64"`
	TrackingNo    string `gorm:"size:64"`
	ReturnAddress string `gorm:"size:255"`
	ShippedAt     *time.Time
	ReceivedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`

	Case *CaseModel `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`
}

func (ReturnShipmentModel) TableName() string {
	return "aftersale_return_shipment"
}

// ExchangeShipmentModel 对应 aftersale_exchange_shipment 表
type ExchangeShipmentModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	CaseID           string `gorm:"size:36;uniqueIndex"`
	Status           string `gorm:"size:32"`
	ReturnCarrier    string `gorm:"size:64"`
	ReturnTrackingNo string `gorm:"size:64"`
	ReshipCarrier    string `gorm:"size:64"`
	ReshipTrackingNo string `gorm:"size:64"`
	ShippingAddress  string `gorm:"size:255"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`

	Case *CaseModel `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`
}

func (ExchangeShipmentModel) TableName() string {
	return "aftersale_exchange_shipment"
}

// AuditEntryModel 对应 aftersale_audit 表，只追加
type AuditEntryModel struct {
	ID          string  `gorm:"primaryKey;size:36"`
	CaseID      string  `gorm:"size:36;index"`
	ReferenceNo string  `gorm:"size:64"`
	ActorType   string  `gorm:"size:16"`
	ActorID     string  `gorm:"size:64"`
	Action      string  `gorm:"size:32"`
	FromState   *string `gorm:"size:32"`
	ToState     *string `gorm:"size:32"`
	Context     datatypes.JSONMap
	CreatedAt   time.Time `gorm:"index"`
}

func (AuditEntryModel) TableName() string {
	return "aftersale_audit"
}

// Models 是需要迁移的全部表
func Models() []any {
	return []any{
		&CaseModel{},
		&RefundExecutionModel{},
		&ReturnShipmentModel{},
		&ExchangeShipmentModel{},
		&AuditEntryModel{},
	}
}
