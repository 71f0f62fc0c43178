package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/store"
	"bodegapos/backend/internal/xid"
)

type stagedRemaining struct {
	expectedVersion int64
	remaining       decimal.Decimal
}

// tx stages every write; nothing is visible outside the unit until commit.
// Reads come from committed state overlaid with the unit's own staged writes.
type tx struct {
	store          *Store
	remaining      map[string]stagedRemaining
	insertedSales  []domain.Sale
	deletedSales   map[string]bool
	appendedAllocs []domain.Allocation
}

// RunAtomic executes fn against a staging view and commits its writes only if
// every batch touched by a conditional update still carries the version fn
// read. A version that moved means a concurrent unit committed first; the
// whole unit is discarded with ErrConflict so the caller can retry from a
// fresh read.
func (s *Store) RunAtomic(ctx context.Context, fn func(store.Tx) error) error {
	unit := &tx{
		store:        s,
		remaining:    make(map[string]stagedRemaining),
		deletedSales: make(map[string]bool),
	}
	if err := fn(unit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(unit)
}

func (s *Store) commit(unit *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, staged := range unit.remaining {
		current, exists := s.batches[id]
		if !exists || current.Version != staged.expectedVersion {
			return store.ErrConflict
		}
	}
	for _, sale := range unit.insertedSales {
		if _, exists := s.sales[sale.ID]; exists {
			return store.ErrConflict
		}
	}
	for id := range unit.deletedSales {
		if _, exists := s.sales[id]; !exists {
			return store.ErrConflict
		}
	}

	for id, staged := range unit.remaining {
		batch := s.batches[id]
		batch.Remaining = staged.remaining
		batch.Version++
	}
	for _, sale := range unit.insertedSales {
		copySale := cloneSale(sale)
		s.sales[sale.ID] = &copySale
	}
	for id := range unit.deletedSales {
		delete(s.sales, id)
		kept := s.allocations[:0]
		for _, a := range s.allocations {
			if a.SaleID != id {
				kept = append(kept, a)
			}
		}
		s.allocations = kept
	}
	for _, alloc := range unit.appendedAllocs {
		if alloc.ID == "" {
			alloc.ID = xid.New("alloc")
		}
		s.allocations = append(s.allocations, alloc)
	}
	return nil
}

func (t *tx) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	batch, err := t.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if staged, ok := t.remaining[id]; ok {
		batch.Remaining = staged.remaining
	}
	return batch, nil
}

func (t *tx) ListOpenBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	batches, err := t.store.ListOpenBatches(ctx, productID)
	if err != nil {
		return nil, err
	}
	result := batches[:0]
	for _, b := range batches {
		if staged, ok := t.remaining[b.ID]; ok {
			b.Remaining = staged.remaining
			if b.Remaining.LessThanOrEqual(decimal.Zero) {
				continue
			}
		}
		result = append(result, b)
	}
	return result, nil
}

func (t *tx) UpdateBatchRemaining(_ context.Context, id string, expectedVersion int64, remaining decimal.Decimal) error {
	if existing, ok := t.remaining[id]; ok {
		// Second write from the same unit; the first expectedVersion stays
		// the commit check.
		existing.remaining = remaining
		t.remaining[id] = existing
		return nil
	}
	t.remaining[id] = stagedRemaining{expectedVersion: expectedVersion, remaining: remaining}
	return nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrInvalidInput
	}
	// Allocations are appended as their own rows; the sale row never embeds
	// them, mirroring the sales table.
	sale.Allocations = nil
	t.insertedSales = append(t.insertedSales, sale)
	return nil
}

func (t *tx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if t.deletedSales[id] {
		return nil, store.ErrNotFound
	}

	var found *domain.Sale
	for _, sale := range t.insertedSales {
		if sale.ID == id {
			copySale := cloneSale(sale)
			found = &copySale
			break
		}
	}
	if found == nil {
		sale, err := t.store.GetSale(ctx, id)
		if err != nil {
			return nil, err
		}
		found = sale
	}

	for _, alloc := range t.appendedAllocs {
		if alloc.SaleID == id {
			found.Allocations = append(found.Allocations, alloc)
		}
	}
	return found, nil
}

func (t *tx) DeleteSale(ctx context.Context, id string) error {
	if _, err := t.GetSale(ctx, id); err != nil {
		return err
	}
	t.deletedSales[id] = true
	return nil
}

func (t *tx) AppendAllocation(_ context.Context, alloc domain.Allocation) error {
	if alloc.SaleID == "" || alloc.BatchID == "" {
		return store.ErrInvalidInput
	}
	t.appendedAllocs = append(t.appendedAllocs, alloc)
	return nil
}
