// Package fifo implements the pure FIFO allocation algorithm: given a
// product's batches and a needed quantity, it selects and partially consumes
// batches oldest-first and aggregates the cost of goods sold. It never touches
// the ledger itself; callers apply the staged updates inside an atomic unit.
package fifo

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/money"
	"bodegapos/backend/internal/store"
)

// BatchUpdate is a staged remaining-quantity change, version-conditioned so
// the ledger rejects it if the batch moved since it was read.
type BatchUpdate struct {
	BatchID   string
	Version   int64
	Remaining decimal.Decimal
}

type Result struct {
	Allocations []domain.Allocation
	Updates     []BatchUpdate
	AvgUnitCost decimal.Decimal
	CogsAmount  decimal.Decimal
}

// Allocate consumes need from batches in FIFO order: intake date ascending
// (string comparison is correct for the fixed-width ISO form), created-at
// ascending on ties. Batches with nothing remaining are skipped in place.
//
// need <= 0 is a no-op, not an error. A shortfall with allowNegative=false
// returns an InsufficientStockError carrying the uncovered quantity; with
// allowNegative=true the covered allocations are returned and the caller
// accounts for the remainder (no negative-stock allocation is fabricated).
//
// Quantities and line costs round to 2 decimals at every step, the average
// unit cost to 4. The per-step rounding means many small allocations can
// drift a few cents versus one large allocation; stored figures depend on
// that behavior.
func Allocate(productID string, batches []domain.Batch, need decimal.Decimal, allowNegative bool) (Result, error) {
	if need.LessThanOrEqual(decimal.Zero) {
		return Result{}, nil
	}

	candidates := make([]domain.Batch, len(batches))
	copy(candidates, batches)
	slices.SortStableFunc(candidates, func(a, b domain.Batch) int {
		if a.IntakeDate != b.IntakeDate {
			return strings.Compare(a.IntakeDate, b.IntakeDate)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var (
		allocations []domain.Allocation
		updates     []BatchUpdate
		qtySum      = decimal.Zero
		cogs        = decimal.Zero
	)

	for _, batch := range candidates {
		if need.LessThanOrEqual(decimal.Zero) {
			break
		}
		if batch.Remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}

		take := decimal.Min(batch.Remaining, need)
		lineCost := money.Round2(take.Mul(batch.PurchasePrice))

		allocations = append(allocations, domain.Allocation{
			BatchID:   batch.ID,
			BatchDate: batch.IntakeDate,
			Qty:       take,
			UnitCost:  batch.PurchasePrice,
			LineCost:  lineCost,
		})
		updates = append(updates, BatchUpdate{
			BatchID:   batch.ID,
			Version:   batch.Version,
			Remaining: money.Round2(batch.Remaining.Sub(take)),
		})

		qtySum = qtySum.Add(take)
		cogs = cogs.Add(lineCost)
		need = money.Round2(need.Sub(take))
	}

	if need.GreaterThan(decimal.Zero) && !allowNegative {
		return Result{}, &store.InsufficientStockError{ProductID: productID, Shortfall: need}
	}

	cogs = money.Round2(cogs)
	avg := decimal.Zero
	if qtySum.GreaterThan(decimal.Zero) {
		avg = money.Round4(cogs.Div(qtySum))
	}

	return Result{
		Allocations: allocations,
		Updates:     updates,
		AvgUnitCost: avg,
		CogsAmount:  cogs,
	}, nil
}
