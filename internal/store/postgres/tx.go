package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/store"
	"bodegapos/backend/internal/xid"
)

// RunAtomic executes fn inside a serializable transaction. Serialization
// failures and deadlocks surface as store.ErrConflict so the caller's retry
// loop can start over from a fresh snapshot.
func (s *Store) RunAtomic(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{store: s, tx: sqlTx}); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return err
	}
	return nil
}

type pgTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *pgTx) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := scanBatch(t.tx.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE id = $1
	`, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (t *pgTx) ListOpenBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	return t.store.listBatches(ctx, t.tx, productID, true)
}

func (t *pgTx) UpdateBatchRemaining(ctx context.Context, batchID string, expectedVersion int64, remaining decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_batches
		SET remaining = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, batchID, expectedVersion, remaining)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrInvalidInput
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, product_id, product_name, price, quantity, amount, client_name,
			recorded_by, sale_date, status, avg_unit_cost, cogs_amount, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.ProductID, sale.ProductName, sale.Price, sale.Quantity,
		sale.Amount, sale.ClientName, sale.RecordedBy, sale.Date, sale.Status,
		sale.AvgUnitCost, sale.CogsAmount, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (t *pgTx) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, sale_id, batch_id, batch_date, qty, unit_cost, line_cost, created_at
		FROM sale_allocations
		WHERE sale_id = $1
		ORDER BY batch_date ASC, created_at ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocations := make([]domain.Allocation, 0, 4)
	for rows.Next() {
		var alloc domain.Allocation
		if err := rows.Scan(&alloc.ID, &alloc.SaleID, &alloc.BatchID, &alloc.BatchDate, &alloc.Qty, &alloc.UnitCost, &alloc.LineCost, &alloc.CreatedAt); err != nil {
			return nil, err
		}
		alloc.CreatedAt = alloc.CreatedAt.UTC()
		allocations = append(allocations, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Allocations = allocations
	return &sale, nil
}

func (t *pgTx) DeleteSale(ctx context.Context, saleID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sale_allocations WHERE sale_id = $1`, saleID)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendAllocation(ctx context.Context, alloc domain.Allocation) error {
	if alloc.ID == "" {
		alloc.ID = xid.New("alloc")
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_allocations (id, sale_id, batch_id, batch_date, qty, unit_cost, line_cost, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, alloc.ID, alloc.SaleID, alloc.BatchID, alloc.BatchDate, alloc.Qty, alloc.UnitCost, alloc.LineCost, alloc.CreatedAt)
	return err
}
