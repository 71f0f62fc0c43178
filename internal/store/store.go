package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError carries the exact uncovered quantity so callers can
// tell the user how short the request fell. It matches ErrInsufficientStock
// under errors.Is.
type InsufficientStockError struct {
	ProductID string
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: short %s", e.ProductID, e.Shortfall.StringFixed(2))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// BatchStore is the batch ledger: intake, point lookup, filtered/sorted
// listing, payment marking, and the remaining-quantity aggregate.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	// ListBatchesByProduct returns every batch for the product ordered by
	// intake date ascending, then created-at ascending.
	ListBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error)
	// ListOpenBatches is ListBatchesByProduct restricted to remaining > 0;
	// the feed for FIFO allocation.
	ListOpenBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	MarkBatchPaid(ctx context.Context, id string, paidAmount decimal.NullDecimal) (*domain.Batch, error)
	// TotalRemaining sums remaining across all batches for the product,
	// floored to 2 decimals and clamped to >= 0.
	TotalRemaining(ctx context.Context, productID string) (decimal.Decimal, error)
	// DeleteBatch removes a batch outright. Deleting a batch that sales still
	// reference leaves those sales only partially reversible; reversal skips
	// the missing batch and logs it.
	DeleteBatch(ctx context.Context, id string) error
}

type SaleStore interface {
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from string, to string) ([]domain.Sale, error)
	ListAllocationsBySale(ctx context.Context, saleID string) ([]domain.Allocation, error)
	SummarizeAllocationsByBatch(ctx context.Context, from string, to string) ([]domain.BatchAllocationSummary, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the ledger view handed to one atomic unit of work. Either every write
// staged through it commits or none does.
type Tx interface {
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListOpenBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	// UpdateBatchRemaining is the conditional write at the heart of the
	// concurrency contract: the new remaining applies only if the batch's
	// version still equals expectedVersion at commit, otherwise the whole
	// unit fails with ErrConflict.
	UpdateBatchRemaining(ctx context.Context, id string, expectedVersion int64, remaining decimal.Decimal) error
	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// DeleteSale removes the sale and its allocation rows together.
	DeleteSale(ctx context.Context, id string) error
	AppendAllocation(ctx context.Context, alloc domain.Allocation) error
}

// Atomic runs fn as one isolated unit of work against the ledger. A returned
// error, including ErrConflict detected at commit, discards every write the
// unit staged.
type Atomic interface {
	RunAtomic(ctx context.Context, fn func(Tx) error) error
}

type Repository interface {
	BatchStore
	SaleStore
	AuditStore
	UserStore
	Atomic
}
