package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	UnitWeight = "weight"
	UnitCount  = "count"
)

const (
	BatchStatusPending = "PENDING"
	BatchStatusPaid    = "PAID"
)

const (
	SaleStatusFloating = "FLOATING"
)

// Batch is one recorded inventory intake with its own cost and remaining
// quantity. Remaining only moves down through allocation and up through
// reversal; Version is the conditional-update token the ledger checks before
// committing a remaining change.
type Batch struct {
	ID            string              `json:"id"`
	ProductID     string              `json:"product_id"`
	ProductName   string              `json:"product_name"`
	Category      string              `json:"category"`
	Unit          string              `json:"unit"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Remaining     decimal.Decimal     `json:"remaining"`
	PurchasePrice decimal.Decimal     `json:"purchase_price"`
	SalePrice     decimal.Decimal     `json:"sale_price"`
	InvoiceTotal  decimal.NullDecimal `json:"invoice_total,omitempty"`
	IntakeDate    string              `json:"intake_date"`
	Supplier      string              `json:"supplier,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	Status        string              `json:"status"`
	PaidAmount    decimal.NullDecimal `json:"paid_amount,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Version       int64               `json:"-"`
}

type BatchCreateRequest struct {
	ProductID     string              `json:"product_id"`
	ProductName   string              `json:"product_name"`
	Category      string              `json:"category"`
	Unit          string              `json:"unit"`
	Quantity      decimal.Decimal     `json:"quantity"`
	PurchasePrice decimal.Decimal     `json:"purchase_price"`
	SalePrice     decimal.Decimal     `json:"sale_price"`
	InvoiceTotal  decimal.NullDecimal `json:"invoice_total,omitempty"`
	IntakeDate    string              `json:"intake_date,omitempty"`
	Supplier      string              `json:"supplier,omitempty"`
	Notes         string              `json:"notes,omitempty"`
}

type BatchPayRequest struct {
	PaidAmount decimal.NullDecimal `json:"paid_amount,omitempty"`
}

// Allocation is a claim of quantity from one batch by one sale. UnitCost is
// copied from the batch's purchase price at allocation time and never changes
// afterward, even if the batch's cost is edited later.
type Allocation struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	BatchID   string          `json:"batch_id"`
	BatchDate string          `json:"batch_date"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineCost  decimal.Decimal `json:"line_cost"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sale holds the amount charged, the quantity sold, and the allocation list
// captured when the sale was recorded, plus the derived cost figures.
type Sale struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	ClientName  string          `json:"client_name,omitempty"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
	Date        string          `json:"date"`
	Status      string          `json:"status"`
	AvgUnitCost decimal.Decimal `json:"avg_unit_cost"`
	CogsAmount  decimal.Decimal `json:"cogs_amount"`
	Allocations []Allocation    `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SaleCreateRequest struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Unit          string          `json:"unit,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	ClientName    string          `json:"client_name,omitempty"`
	Date          string          `json:"date,omitempty"`
	AllowNegative *bool           `json:"allow_negative,omitempty"`
}

// ReversalResult reports what a sale deletion actually restored. RestoredQty
// can fall short of the sale's quantity when a supplying batch was deleted
// after the sale was recorded.
type ReversalResult struct {
	SaleID      string          `json:"sale_id"`
	RestoredQty decimal.Decimal `json:"restored_qty"`
}

type BatchStockLine struct {
	BatchID   string          `json:"batch_id"`
	Date      string          `json:"date"`
	Remaining decimal.Decimal `json:"remaining"`
}

type StockSummary struct {
	ProductID string           `json:"product_id"`
	Total     decimal.Decimal  `json:"total"`
	Batches   []BatchStockLine `json:"batches"`
}

// BatchAllocationSummary aggregates a batch's sold quantity and charged amount
// over a sale-date range, used to settle suppliers per batch.
type BatchAllocationSummary struct {
	BatchID     string          `json:"batch_id"`
	BatchDate   string          `json:"batch_date"`
	ProductName string          `json:"product_name"`
	Qty         decimal.Decimal `json:"qty"`
	Amount      decimal.Decimal `json:"amount"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
