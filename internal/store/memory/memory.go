package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/money"
	"bodegapos/backend/internal/store"
	"bodegapos/backend/internal/xid"
)

// Store is the in-memory batch ledger. Plain reads copy committed state under
// the lock; atomic units stage their writes and commit only if every touched
// batch's version is unchanged, so two overlapping units can never both
// subtract from the same pre-decrement remaining.
type Store struct {
	mu              sync.RWMutex
	batches         map[string]*domain.Batch
	sales           map[string]*domain.Sale
	allocations     []domain.Allocation
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		batches:         make(map[string]*domain.Batch),
		sales:           make(map[string]*domain.Sale),
		allocations:     make([]domain.Allocation, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"seller", sellerPwd, "seller"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	seed := []domain.Batch{
		{ProductID: "prod-queso", ProductName: "Queso Fresco", Category: "lacteos", Unit: domain.UnitWeight,
			Quantity: dec("40"), PurchasePrice: dec("62.50"), SalePrice: dec("85.00"), IntakeDate: "2025-08-18", Supplier: "Finca La Esperanza"},
		{ProductID: "prod-queso", ProductName: "Queso Fresco", Category: "lacteos", Unit: domain.UnitWeight,
			Quantity: dec("25"), PurchasePrice: dec("64.00"), SalePrice: dec("85.00"), IntakeDate: "2025-08-25", Supplier: "Finca La Esperanza"},
		{ProductID: "prod-pollo", ProductName: "Pollo Entero", Category: "carnes", Unit: domain.UnitWeight,
			Quantity: dec("60"), PurchasePrice: dec("48.75"), SalePrice: dec("65.00"), IntakeDate: "2025-08-22", Supplier: "Avicola Central"},
		{ProductID: "prod-huevo", ProductName: "Cajilla de Huevos", Category: "granos", Unit: domain.UnitCount,
			Quantity: dec("30"), PurchasePrice: dec("150.00"), SalePrice: dec("190.00"), IntakeDate: "2025-08-20", Supplier: "Avicola Central"},
	}
	for i, b := range seed {
		b.ID = xid.New("batch")
		b.Remaining = b.Quantity
		b.Status = domain.BatchStatusPending
		b.CreatedAt = now.Add(time.Duration(i) * time.Second)
		b.Version = 1
		copyBatch := b
		s.batches[b.ID] = &copyBatch
	}
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ProductID == "" || batch.ProductName == "" {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if _, exists := s.batches[batch.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if batch.Remaining.IsZero() {
		batch.Remaining = batch.Quantity
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.Version = 1

	created := batch
	s.batches[batch.ID] = &created
	result := created
	return &result, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batches[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBatch := *batch
	return &copyBatch, nil
}

func (s *Store) ListBatchesByProduct(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBatchesLocked(productID, false), nil
}

func (s *Store) ListOpenBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBatchesLocked(productID, true), nil
}

// listBatchesLocked returns copies ordered by intake date asc, createdAt asc.
func (s *Store) listBatchesLocked(productID string, openOnly bool) []domain.Batch {
	batches := make([]domain.Batch, 0, 8)
	for _, b := range s.batches {
		if b.ProductID != productID {
			continue
		}
		if openOnly && b.Remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}
		batches = append(batches, *b)
	}
	slices.SortFunc(batches, func(a, b domain.Batch) int {
		if a.IntakeDate != b.IntakeDate {
			return strings.Compare(a.IntakeDate, b.IntakeDate)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return batches
}

func (s *Store) MarkBatchPaid(_ context.Context, id string, paidAmount decimal.NullDecimal) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batches[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	batch.Status = domain.BatchStatusPaid
	batch.PaidAmount = paidAmount
	batch.PaidAt = &now

	copyBatch := *batch
	return &copyBatch, nil
}

func (s *Store) TotalRemaining(_ context.Context, productID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, b := range s.batches {
		if b.ProductID == productID {
			total = total.Add(b.Remaining)
		}
	}
	total = money.Floor2(total)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total, nil
}

func (s *Store) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.batches, id)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(*sale)
	copySale.Allocations = s.allocationsForSaleLocked(id)
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, from string, to string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.sales {
		if from != "" && sale.Date < from {
			continue
		}
		if to != "" && sale.Date > to {
			continue
		}
		copySale := cloneSale(*sale)
		copySale.Allocations = s.allocationsForSaleLocked(sale.ID)
		sales = append(sales, copySale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sales, nil
}

func (s *Store) ListAllocationsBySale(_ context.Context, saleID string) ([]domain.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.allocationsForSaleLocked(saleID), nil
}

// allocationsForSaleLocked collects the sale's allocation rows. Allocations
// live as rows beside the sale, not inside it; GetSale and ListSales attach
// them the same way the SQL store hydrates from sale_allocations. Callers
// hold s.mu.
func (s *Store) allocationsForSaleLocked(saleID string) []domain.Allocation {
	result := make([]domain.Allocation, 0, 4)
	for _, a := range s.allocations {
		if a.SaleID == saleID {
			result = append(result, a)
		}
	}
	return result
}

func (s *Store) SummarizeAllocationsByBatch(_ context.Context, from string, to string) ([]domain.BatchAllocationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byBatch := make(map[string]*domain.BatchAllocationSummary)
	for _, a := range s.allocations {
		sale, exists := s.sales[a.SaleID]
		if !exists {
			continue
		}
		if from != "" && sale.Date < from {
			continue
		}
		if to != "" && sale.Date > to {
			continue
		}
		summary, ok := byBatch[a.BatchID]
		if !ok {
			summary = &domain.BatchAllocationSummary{
				BatchID:     a.BatchID,
				BatchDate:   a.BatchDate,
				ProductName: sale.ProductName,
				Qty:         decimal.Zero,
				Amount:      decimal.Zero,
			}
			byBatch[a.BatchID] = summary
		}
		summary.Qty = summary.Qty.Add(a.Qty)
		// Charged amount attributed at the sale's unit price.
		summary.Amount = money.Round2(summary.Amount.Add(a.Qty.Mul(sale.Price)))
	}

	result := make([]domain.BatchAllocationSummary, 0, len(byBatch))
	for _, summary := range byBatch {
		result = append(result, *summary)
	}
	slices.SortFunc(result, func(a, b domain.BatchAllocationSummary) int {
		if a.BatchDate != b.BatchDate {
			return strings.Compare(a.BatchDate, b.BatchDate)
		}
		return strings.Compare(a.BatchID, b.BatchID)
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	allocs := make([]domain.Allocation, len(sale.Allocations))
	copy(allocs, sale.Allocations)
	sale.Allocations = allocs
	return sale
}
