package store

import (
	"gorm.io/datatypes"
)

// SignalModel is the durable row per admission attempt. State strings
// mirror the pipeline's signal state machine.
type SignalModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Fingerprint string         `gorm:"column:fingerprint;index"`
	Source      string         `gorm:"column:source"`
	Symbol      string         `gorm:"column:symbol;index"`
	State       string         `gorm:"column:state"`
	Code        string         `gorm:"column:code"`
	Reason      string         `gorm:"column:reason"`
	OrderID     string         `gorm:"column:order_id"`
	Intent      datatypes.JSON `gorm:"column:intent_json;type:TEXT"`
	Verdicts    datatypes.JSON `gorm:"column:verdicts_json;type:TEXT"`
	CreatedAt   int64          `gorm:"column:created_at"`
	UpdatedAt   int64          `gorm:"column:updated_at"`
}

func (SignalModel) TableName() string { return "signals" }

// OrderModel is the durable row per dispatched broker action. The
// idempotency key is unique: one key, at most one external order.
type OrderModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	SignalID       string         `gorm:"column:signal_id;index"`
	IdempotencyKey string         `gorm:"column:idempotency_key;uniqueIndex"`
	BrokerID       string         `gorm:"column:broker_id"`
	Symbol         string         `gorm:"column:symbol;index"`
	Side           string         `gorm:"column:side"`
	State          string         `gorm:"column:state"`
	Reason         string         `gorm:"column:reason"`
	Request        datatypes.JSON `gorm:"column:request_json;type:TEXT"`
	FilledQty      string         `gorm:"column:filled_qty"`
	FillPrice      string         `gorm:"column:fill_price"`
	CreatedAt      int64          `gorm:"column:created_at"`
	UpdatedAt      int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }
