package store

import (
	"context"
	"errors"
	"time"

	"dulceria/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStockConflict signals that inventory could not be allocated because
	// it was exhausted or drained by concurrent sales. It is an expected
	// outcome under contention, not a programming error.
	ErrStockConflict = errors.New("stock conflict")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	SetProductBlocked(ctx context.Context, id string, blocked bool) (*domain.Product, error)

	CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error)
	ListLots(ctx context.Context, productID string, includeExpired bool, limit int) ([]domain.Lot, error)
	AggregateStock(ctx context.Context, productIDs []string) (map[string]int, error)

	CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error)
	ListCombos(ctx context.Context) ([]domain.Combo, error)
	GetComboByID(ctx context.Context, id string) (*domain.Combo, error)
	SetComboActive(ctx context.Context, id string, active bool) (*domain.Combo, error)

	OpenRegisterSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error)
	CloseRegisterSession(ctx context.Context, registerID string, closedAt time.Time) (*domain.RegisterSession, error)
	GetOpenRegisterSession(ctx context.Context, registerID string) (*domain.RegisterSession, error)

	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListLotConsumptions(ctx context.Context, saleID string) ([]domain.LotConsumption, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	// BeginSale opens the unit of work that carries one sale from provisional
	// header to commit. Every mutation performed through the returned SaleTx
	// is discarded as one unit by Rollback.
	BeginSale(ctx context.Context) (SaleTx, error)
}

// SaleTx is the transaction-scoped view of the store handed to the sale
// engine. Lot and combo counters are mutated exclusively through the
// conditional-decrement methods; unconditional writes to those counters are a
// correctness violation.
type SaleTx interface {
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetCombosByIDs(ctx context.Context, ids []string) (map[string]domain.Combo, error)
	ListLotsByProduct(ctx context.Context, productID string) ([]domain.Lot, error)

	// NextLotCandidate returns the single lot the FEFO order selects next for
	// the product: available quantity > 0, not expired, ordered by expiry
	// ascending (nulls last), then receipt order, then ID. ErrNotFound when
	// no candidate remains.
	NextLotCandidate(ctx context.Context, productID string) (*domain.Lot, error)

	// TryDecrementLot subtracts qty from the lot's available counter only if
	// the counter still holds at least qty. The first return reports whether
	// the decrement landed.
	TryDecrementLot(ctx context.Context, lotID string, qty int) (bool, error)

	// TryDecrementCombo is the same conditional decrement against a combo's
	// finished-goods counter.
	TryDecrementCombo(ctx context.Context, comboID string, qty int) (bool, error)

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleLine(ctx context.Context, line domain.SaleLine) error
	InsertComboSaleLine(ctx context.Context, line domain.ComboSaleLine) error
	InsertLotConsumption(ctx context.Context, rec domain.LotConsumption) error

	// SumLineSubtotals recomputes the sale total from the line rows written
	// in this transaction, never from caller-supplied prices.
	SumLineSubtotals(ctx context.Context, saleID string) (int64, error)
	UpdateSaleTotals(ctx context.Context, saleID string, totalCents int64, changeCents int64, status string) error

	// NextTicketNumber draws from a dedicated monotonic counter independent
	// of any primary key. Numbers are never reissued; rolling back a sale
	// leaves a gap, which is acceptable.
	NextTicketNumber(ctx context.Context) (int64, error)

	Commit(ctx context.Context) error
	// Rollback undoes every mutation of this unit of work, including counter
	// decrements. It is a no-op after a successful Commit.
	Rollback(ctx context.Context) error
}
