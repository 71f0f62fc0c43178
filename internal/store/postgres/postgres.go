package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/money"
	"bodegapos/backend/internal/store"
	"bodegapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const batchColumns = `id, product_id, product_name, category, unit, quantity, remaining,
	purchase_price, sale_price, invoice_total, intake_date, supplier, notes,
	status, paid_amount, paid_at, created_at, version`

func scanBatch(row interface{ Scan(...any) error }) (domain.Batch, error) {
	var b domain.Batch
	var paidAt sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.ProductID,
		&b.ProductName,
		&b.Category,
		&b.Unit,
		&b.Quantity,
		&b.Remaining,
		&b.PurchasePrice,
		&b.SalePrice,
		&b.InvoiceTotal,
		&b.IntakeDate,
		&b.Supplier,
		&b.Notes,
		&b.Status,
		&b.PaidAmount,
		&paidAt,
		&b.CreatedAt,
		&b.Version,
	)
	if err != nil {
		return domain.Batch{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		b.PaidAt = &at
	}
	return b, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusPending
	}
	if strings.TrimSpace(batch.ProductID) == "" || batch.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrInvalidInput
	}
	batch.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_batches (
			id, product_id, product_name, category, unit, quantity, remaining,
			purchase_price, sale_price, invoice_total, intake_date, supplier, notes,
			status, paid_amount, paid_at, created_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,1)
	`, batch.ID, batch.ProductID, batch.ProductName, batch.Category, batch.Unit,
		batch.Quantity, batch.Remaining, batch.PurchasePrice, batch.SalePrice,
		batch.InvoiceTotal, batch.IntakeDate, batch.Supplier, batch.Notes,
		batch.Status, batch.PaidAmount, nullTime(batch.PaidAt), batch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
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

func (s *Store) ListBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error) {
	return s.listBatches(ctx, s.db, productID, false)
}

func (s *Store) ListOpenBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	return s.listBatches(ctx, s.db, productID, true)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listBatches(ctx context.Context, q querier, productID string, openOnly bool) ([]domain.Batch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE product_id = $1
	`
	if openOnly {
		query += ` AND remaining > 0`
	}
	query += `
		ORDER BY intake_date ASC, created_at ASC
	`

	rows, err := q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 16)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) MarkBatchPaid(ctx context.Context, batchID string, paidAmount decimal.NullDecimal) (*domain.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		UPDATE inventory_batches
		SET status = $2, paid_amount = $3, paid_at = now()
		WHERE id = $1
		RETURNING `+batchColumns+`
	`, batchID, domain.BatchStatusPaid, paidAmount))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) TotalRemaining(ctx context.Context, productID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining), 0)
		FROM inventory_batches
		WHERE product_id = $1
	`, productID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Floor2(total), nil
}

func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE id = $1`, batchID)
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

const saleColumns = `id, product_id, product_name, price, quantity, amount, client_name,
	recorded_by, sale_date, status, avg_unit_cost, cogs_amount, created_at`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID,
		&sale.ProductID,
		&sale.ProductName,
		&sale.Price,
		&sale.Quantity,
		&sale.Amount,
		&sale.ClientName,
		&sale.RecordedBy,
		&sale.Date,
		&sale.Status,
		&sale.AvgUnitCost,
		&sale.CogsAmount,
		&sale.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	allocations, err := s.ListAllocationsBySale(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Allocations = allocations
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from string, to string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR sale_date >= $1)
			AND ($2 = '' OR sale_date <= $2)
		ORDER BY sale_date DESC, created_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}

	allocRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, batch_id, batch_date, qty, unit_cost, line_cost, created_at
		FROM sale_allocations
		WHERE sale_id = ANY($1)
		ORDER BY batch_date ASC, created_at ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer allocRows.Close()

	allocMap := make(map[string][]domain.Allocation, len(ids))
	for allocRows.Next() {
		var alloc domain.Allocation
		if err := allocRows.Scan(&alloc.ID, &alloc.SaleID, &alloc.BatchID, &alloc.BatchDate, &alloc.Qty, &alloc.UnitCost, &alloc.LineCost, &alloc.CreatedAt); err != nil {
			return nil, err
		}
		alloc.CreatedAt = alloc.CreatedAt.UTC()
		allocMap[alloc.SaleID] = append(allocMap[alloc.SaleID], alloc)
	}
	if err := allocRows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		sales[i].Allocations = allocMap[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) ListAllocationsBySale(ctx context.Context, saleID string) ([]domain.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
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
	return allocations, nil
}

func (s *Store) SummarizeAllocationsByBatch(ctx context.Context, from string, to string) ([]domain.BatchAllocationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.batch_id, a.batch_date,
			COALESCE(SUM(a.qty), 0),
			COALESCE(SUM(ROUND(a.qty * s.price, 2)), 0)
		FROM sale_allocations a
		JOIN sales s ON s.id = a.sale_id
		WHERE ($1 = '' OR s.sale_date >= $1)
			AND ($2 = '' OR s.sale_date <= $2)
		GROUP BY a.batch_id, a.batch_date
		ORDER BY a.batch_date ASC, a.batch_id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.BatchAllocationSummary, 0, 16)
	for rows.Next() {
		var summary domain.BatchAllocationSummary
		if err := rows.Scan(&summary.BatchID, &summary.BatchDate, &summary.Qty, &summary.Amount); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "seller"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
