package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bodegapos/backend/internal/cache"
	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/fifo"
	"bodegapos/backend/internal/money"
	"bodegapos/backend/internal/store"
	"bodegapos/backend/internal/txn"
	"bodegapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	runner        *txn.Runner
	stockCache    cache.StockCache
	stockTTL      time.Duration
	allowNegative bool
}

func New(repo store.Repository, runner *txn.Runner, stockCache cache.StockCache, stockTTL time.Duration, allowNegative bool) *Service {
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if stockTTL <= 0 {
		stockTTL = 15 * time.Second
	}

	return &Service{
		repo:          repo,
		runner:        runner,
		stockCache:    stockCache,
		stockTTL:      stockTTL,
		allowNegative: allowNegative,
	}
}

// ReceiveBatch records one inventory intake. Remaining starts at the full
// quantity and the batch is PENDING until marked paid.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchCreateRequest) (domain.Batch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Batch{}, fmt.Errorf("admin role required")
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Category = strings.TrimSpace(req.Category)
	if req.ProductID == "" || req.ProductName == "" {
		return domain.Batch{}, store.ErrInvalidInput
	}
	if req.Unit != domain.UnitWeight && req.Unit != domain.UnitCount {
		return domain.Batch{}, store.ErrInvalidInput
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) || req.PurchasePrice.LessThanOrEqual(decimal.Zero) {
		return domain.Batch{}, store.ErrInvalidInput
	}
	if req.SalePrice.IsNegative() {
		return domain.Batch{}, store.ErrInvalidInput
	}
	if req.IntakeDate == "" {
		req.IntakeDate = time.Now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, req.IntakeDate); err != nil {
		return domain.Batch{}, store.ErrInvalidInput
	}

	quantity := money.NormalizeQty(req.Unit, req.Quantity)
	batch := domain.Batch{
		ID:            xid.New("batch"),
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Category:      req.Category,
		Unit:          req.Unit,
		Quantity:      quantity,
		Remaining:     quantity,
		PurchasePrice: req.PurchasePrice,
		SalePrice:     req.SalePrice,
		InvoiceTotal:  req.InvoiceTotal,
		IntakeDate:    req.IntakeDate,
		Supplier:      strings.TrimSpace(req.Supplier),
		Notes:         strings.TrimSpace(req.Notes),
		Status:        domain.BatchStatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logAudit(ctx, "batch_receive", "batch", created.ID, fmt.Sprintf("product=%s,qty=%s,cost=%s", created.ProductID, created.Quantity.String(), created.PurchasePrice.String()))
	s.invalidateStock(ctx, created.ProductID)

	return *created, nil
}

// MarkBatchPaid transitions PENDING to PAID. Re-invoking overwrites the paid
// fields without touching quantity or remaining.
func (s *Service) MarkBatchPaid(ctx context.Context, batchID string, req domain.BatchPayRequest) (domain.Batch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Batch{}, fmt.Errorf("admin role required")
	}

	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return domain.Batch{}, store.ErrInvalidInput
	}
	if req.PaidAmount.Valid && req.PaidAmount.Decimal.IsNegative() {
		return domain.Batch{}, store.ErrInvalidInput
	}

	updated, err := s.repo.MarkBatchPaid(ctx, batchID, req.PaidAmount)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logAudit(ctx, "batch_pay", "batch", updated.ID, fmt.Sprintf("paid_amount=%s", nullDecimalString(updated.PaidAmount)))

	return *updated, nil
}

// DeleteBatch removes a batch from the ledger. Sales that consumed it remain;
// deleting their sale afterwards silently skips the missing batch, so the
// restored total can fall short. That loss is accepted and logged, not
// escalated.
func (s *Service) DeleteBatch(ctx context.Context, batchID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return store.ErrInvalidInput
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBatch(ctx, batchID); err != nil {
		return err
	}

	s.logAudit(ctx, "batch_delete", "batch", batchID, fmt.Sprintf("product=%s,remaining=%s", batch.ProductID, batch.Remaining.String()))
	s.invalidateStock(ctx, batch.ProductID)

	return nil
}

func (s *Service) ListBatches(ctx context.Context, productID string, openOnly bool) ([]domain.Batch, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, store.ErrInvalidInput
	}
	if openOnly {
		return s.repo.ListOpenBatches(ctx, productID)
	}
	return s.repo.ListBatchesByProduct(ctx, productID)
}

// AvailableStock returns the display total for a product. It consults the
// stock cache first; cached figures may be stale by the time an allocation
// commits, which is acceptable for pre-flight checks and forms. The
// authoritative check happens inside RecordSale's atomic unit.
func (s *Service) AvailableStock(ctx context.Context, productID string) (decimal.Decimal, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return decimal.Zero, store.ErrInvalidInput
	}

	if total, found, err := s.stockCache.GetTotal(ctx, productID); err == nil && found {
		return total, nil
	} else if err != nil {
		log.Printf("[service] WARN: stock cache read failed product=%s: %v", productID, err)
	}

	total, err := s.repo.TotalRemaining(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.stockCache.SetTotal(ctx, productID, total, s.stockTTL); err != nil {
		log.Printf("[service] WARN: stock cache write failed product=%s: %v", productID, err)
	}
	return total, nil
}

// StockByProduct returns the total plus the per-open-batch breakdown.
func (s *Service) StockByProduct(ctx context.Context, productID string) (domain.StockSummary, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockSummary{}, store.ErrInvalidInput
	}

	batches, err := s.repo.ListOpenBatches(ctx, productID)
	if err != nil {
		return domain.StockSummary{}, err
	}

	summary := domain.StockSummary{
		ProductID: productID,
		Total:     decimal.Zero,
		Batches:   make([]domain.BatchStockLine, 0, len(batches)),
	}
	for _, b := range batches {
		summary.Total = summary.Total.Add(b.Remaining)
		summary.Batches = append(summary.Batches, domain.BatchStockLine{
			BatchID:   b.ID,
			Date:      b.IntakeDate,
			Remaining: b.Remaining,
		})
	}
	return summary, nil
}

// RecordSale allocates stock FIFO and persists the sale in ONE atomic unit:
// the batch decrements, the sale row (with its captured allocation list and
// derived cost figures), and the allocation rows all commit together or not
// at all. A conflicting concurrent allocation triggers a retry from a fresh
// read; an uncovered shortfall (unless the request allows negative stock)
// aborts the unit with the exact missing quantity.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductID == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.Price.IsNegative() {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.Date == "" {
		req.Date = time.Now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, req.Date); err != nil {
		return domain.Sale{}, store.ErrInvalidInput
	}

	quantity := req.Quantity.Round(2)
	if req.Unit != "" {
		quantity = money.NormalizeQty(req.Unit, req.Quantity)
		if quantity.LessThanOrEqual(decimal.Zero) {
			return domain.Sale{}, store.ErrInvalidInput
		}
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = money.Round2(quantity.Mul(req.Price))
	}
	allowNegative := s.allowNegative
	if req.AllowNegative != nil {
		allowNegative = *req.AllowNegative
	}

	recordedBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		recordedBy = actor.Username
	}

	var sale domain.Sale
	err := s.runner.Run(ctx, func(tx store.Tx) error {
		batches, err := tx.ListOpenBatches(ctx, req.ProductID)
		if err != nil {
			return err
		}

		result, err := fifo.Allocate(req.ProductID, batches, quantity, allowNegative)
		if err != nil {
			return err
		}

		for _, update := range result.Updates {
			if err := tx.UpdateBatchRemaining(ctx, update.BatchID, update.Version, update.Remaining); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		sale = domain.Sale{
			ID:          xid.New("sale"),
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
			Price:       req.Price,
			Quantity:    quantity,
			Amount:      amount,
			ClientName:  strings.TrimSpace(req.ClientName),
			RecordedBy:  recordedBy,
			Date:        req.Date,
			Status:      domain.SaleStatusFloating,
			AvgUnitCost: result.AvgUnitCost,
			CogsAmount:  result.CogsAmount,
			CreatedAt:   now,
		}
		for i := range result.Allocations {
			alloc := result.Allocations[i]
			alloc.ID = xid.New("alloc")
			alloc.SaleID = sale.ID
			alloc.CreatedAt = now
			sale.Allocations = append(sale.Allocations, alloc)
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for _, alloc := range sale.Allocations {
			if err := tx.AppendAllocation(ctx, alloc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_record", "sale", sale.ID, fmt.Sprintf("product=%s,qty=%s,cogs=%s", sale.ProductID, sale.Quantity.String(), sale.CogsAmount.String()))
	s.invalidateStock(ctx, sale.ProductID)

	return sale, nil
}

// DeleteSale reverses the sale's allocations and removes it, atomically:
// every still-existing supplying batch gets its quantity back, then the sale
// and its allocation rows go. A batch deleted since the sale was recorded is
// skipped silently; the returned restored quantity reflects what actually
// went back, so strict callers can audit it against the sale's quantity.
func (s *Service) DeleteSale(ctx context.Context, saleID string) (domain.ReversalResult, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ReversalResult{}, store.ErrInvalidInput
	}

	var (
		restored  = decimal.Zero
		productID string
	)
	err := s.runner.Run(ctx, func(tx store.Tx) error {
		restored = decimal.Zero

		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		productID = sale.ProductID

		for _, alloc := range sale.Allocations {
			batch, err := tx.GetBatch(ctx, alloc.BatchID)
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[service] WARN: batch %s missing during reversal of sale %s, skipping %s units", alloc.BatchID, saleID, alloc.Qty.String())
				continue
			}
			if err != nil {
				return err
			}

			newRemaining := money.Round2(batch.Remaining.Add(alloc.Qty))
			if err := tx.UpdateBatchRemaining(ctx, batch.ID, batch.Version, newRemaining); err != nil {
				return err
			}
			restored = restored.Add(alloc.Qty)
		}

		return tx.DeleteSale(ctx, saleID)
	})
	if err != nil {
		return domain.ReversalResult{}, err
	}

	s.logAudit(ctx, "sale_delete", "sale", saleID, fmt.Sprintf("restored=%s", restored.String()))
	if productID != "" {
		s.invalidateStock(ctx, productID)
	}

	return domain.ReversalResult{SaleID: saleID, RestoredQty: restored}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from string, to string) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, from, to)
}

func (s *Service) SaleAllocations(ctx context.Context, saleID string) ([]domain.Allocation, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListAllocationsBySale(ctx, saleID)
}

// SettlementByBatch aggregates sold quantity and charged amount per batch over
// a sale-date range, the figures used to settle suppliers batch by batch.
func (s *Service) SettlementByBatch(ctx context.Context, from string, to string) ([]domain.BatchAllocationSummary, error) {
	return s.repo.SummarizeAllocationsByBatch(ctx, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) invalidateStock(ctx context.Context, productID string) {
	if err := s.stockCache.Invalidate(ctx, productID); err != nil {
		log.Printf("[service] WARN: stock cache invalidate failed product=%s: %v", productID, err)
	}
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "none"
	}
	return d.Decimal.String()
}
