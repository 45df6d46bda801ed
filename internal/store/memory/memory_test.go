package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dulceria/internal/domain"
	"dulceria/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New()
}

func seedProductWithLots(t *testing.T, s *Store, productID string, lots ...domain.Lot) {
	t.Helper()
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{ID: productID, Name: productID, PriceCents: 1000})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	for _, lot := range lots {
		lot.ProductID = productID
		if _, err := s.CreateLot(ctx, lot); err != nil {
			t.Fatalf("create lot %s: %v", lot.ID, err)
		}
	}
}

func TestNextLotCandidateFollowsFEFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	soon := domain.DateUTC(now.Add(24 * time.Hour))
	later := domain.DateUTC(now.Add(240 * time.Hour))

	seedProductWithLots(t, s, "prod-x",
		domain.Lot{ID: "lot-later", ExpiryDate: &later, QtyReceived: 10, ReceivedAt: now.Add(-2 * time.Hour)},
		domain.Lot{ID: "lot-open", QtyReceived: 10, ReceivedAt: now.Add(-3 * time.Hour)},
		domain.Lot{ID: "lot-soon", ExpiryDate: &soon, QtyReceived: 10, ReceivedAt: now.Add(-time.Hour)},
	)

	tx, err := s.BeginSale(ctx)
	if err != nil {
		t.Fatalf("begin sale: %v", err)
	}
	defer tx.Rollback(ctx)

	candidate, err := tx.NextLotCandidate(ctx, "prod-x")
	if err != nil {
		t.Fatalf("next candidate: %v", err)
	}
	if candidate.ID != "lot-soon" {
		t.Fatalf("candidate = %s, want lot-soon", candidate.ID)
	}

	// drain it; next candidate moves to the later expiry, then the open lot
	if ok, err := tx.TryDecrementLot(ctx, "lot-soon", 10); err != nil || !ok {
		t.Fatalf("decrement lot-soon: ok=%t err=%v", ok, err)
	}
	candidate, err = tx.NextLotCandidate(ctx, "prod-x")
	if err != nil {
		t.Fatalf("next candidate: %v", err)
	}
	if candidate.ID != "lot-later" {
		t.Fatalf("candidate = %s, want lot-later", candidate.ID)
	}
}

func TestNextLotCandidateSkipsExpiredLots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := domain.DateUTC(now.Add(-48 * time.Hour))

	seedProductWithLots(t, s, "prod-old",
		domain.Lot{ID: "lot-expired", ExpiryDate: &past, QtyReceived: 10},
	)

	tx, err := s.BeginSale(ctx)
	if err != nil {
		t.Fatalf("begin sale: %v", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.NextLotCandidate(ctx, "prod-old")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for product with only expired lots, got %v", err)
	}
}

func TestTryDecrementLotIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProductWithLots(t, s, "prod-y",
		domain.Lot{ID: "lot-y", QtyReceived: 5},
	)

	tx, err := s.BeginSale(ctx)
	if err != nil {
		t.Fatalf("begin sale: %v", err)
	}
	defer tx.Rollback(ctx)

	ok, err := tx.TryDecrementLot(ctx, "lot-y", 6)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if ok {
		t.Fatalf("decrement beyond available quantity must fail")
	}

	ok, err = tx.TryDecrementLot(ctx, "lot-y", 5)
	if err != nil || !ok {
		t.Fatalf("exact decrement: ok=%t err=%v", ok, err)
	}

	ok, err = tx.TryDecrementLot(ctx, "lot-y", 1)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if ok {
		t.Fatalf("decrement of drained lot must fail")
	}
}

func TestRollbackRestoresCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProductWithLots(t, s, "prod-z",
		domain.Lot{ID: "lot-z", QtyReceived: 10},
	)
	if _, err := s.CreateCombo(ctx, domain.Combo{
		ID: "combo-z", Name: "Combo Z", PriceCents: 5000, QtyAvailable: 4,
		Components: []domain.ComboComponent{{ProductID: "prod-z", QtyPerCombo: 1}},
	}); err != nil {
		t.Fatalf("create combo: %v", err)
	}

	tx, err := s.BeginSale(ctx)
	if err != nil {
		t.Fatalf("begin sale: %v", err)
	}

	if ok, _ := tx.TryDecrementLot(ctx, "lot-z", 7); !ok {
		t.Fatalf("lot decrement should succeed")
	}
	if ok, _ := tx.TryDecrementCombo(ctx, "combo-z", 3); !ok {
		t.Fatalf("combo decrement should succeed")
	}

	// decrements are visible to other readers before commit
	stock, err := s.AggregateStock(ctx, []string{"prod-z"})
	if err != nil {
		t.Fatalf("aggregate stock: %v", err)
	}
	if stock["prod-z"] != 3 {
		t.Fatalf("mid-tx stock = %d, want 3", stock["prod-z"])
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	stock, _ = s.AggregateStock(ctx, []string{"prod-z"})
	if stock["prod-z"] != 10 {
		t.Fatalf("post-rollback stock = %d, want 10", stock["prod-z"])
	}
	combo, err := s.GetComboByID(ctx, "combo-z")
	if err != nil {
		t.Fatalf("get combo: %v", err)
	}
	if combo.QtyAvailable != 4 {
		t.Fatalf("post-rollback combo qty = %d, want 4", combo.QtyAvailable)
	}

	// rollback twice is harmless
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
}

func TestCommitPersistsRowsAndRollbackAfterCommitIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProductWithLots(t, s, "prod-c",
		domain.Lot{ID: "lot-c", QtyReceived: 10},
	)

	tx, err := s.BeginSale(ctx)
	if err != nil {
		t.Fatalf("begin sale: %v", err)
	}

	sale := domain.Sale{ID: "sale-1", TicketCode: "00000001", Status: domain.SaleStatusPending, CreatedAt: time.Now().UTC()}
	if err := tx.InsertSale(ctx, sale); err != nil {
		t.Fatalf("insert sale: %v", err)
	}
	if ok, _ := tx.TryDecrementLot(ctx, "lot-c", 2); !ok {
		t.Fatalf("decrement failed")
	}
	if err := tx.InsertSaleLine(ctx, domain.SaleLine{SaleID: "sale-1", ProductID: "prod-c", Qty: 2, UnitPriceCents: 1000, SubtotalCents: 2000}); err != nil {
		t.Fatalf("insert line: %v", err)
	}
	if err := tx.InsertLotConsumption(ctx, domain.LotConsumption{ID: "cons-1", SaleID: "sale-1", ProductID: "prod-c", LotID: "lot-c", Qty: 2, Origin: domain.OriginDirectSale}); err != nil {
		t.Fatalf("insert consumption: %v", err)
	}

	total, err := tx.SumLineSubtotals(ctx, "sale-1")
	if err != nil {
		t.Fatalf("sum subtotals: %v", err)
	}
	if total != 2000 {
		t.Fatalf("subtotal sum = %d, want 2000", total)
	}
	if err := tx.UpdateSaleTotals(ctx, "sale-1", total, 0, domain.SaleStatusCompleted); err != nil {
		t.Fatalf("update totals: %v", err)
	}

	// nothing visible before commit
	if _, err := s.GetSaleByID(ctx, "sale-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("sale visible before commit: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	committed, err := s.GetSaleByID(ctx, "sale-1")
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if committed.TotalCents != 2000 || committed.Status != domain.SaleStatusCompleted {
		t.Fatalf("committed sale = %+v", committed)
	}
	consumptions, err := s.ListLotConsumptions(ctx, "sale-1")
	if err != nil || len(consumptions) != 1 {
		t.Fatalf("consumptions = %v err=%v", consumptions, err)
	}

	// rollback after commit must not resurrect the decremented units
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
	stock, _ := s.AggregateStock(ctx, []string{"prod-c"})
	if stock["prod-c"] != 8 {
		t.Fatalf("stock after commit+rollback = %d, want 8", stock["prod-c"])
	}
}

func TestTicketNumbersSurviveRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx1, _ := s.BeginSale(ctx)
	n1, err := tx1.NextTicketNumber(ctx)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if err := tx1.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	tx2, _ := s.BeginSale(ctx)
	defer tx2.Rollback(ctx)
	n2, err := tx2.NextTicketNumber(ctx)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if n2 != n1+1 {
		t.Fatalf("ticket after rollback = %d, want %d (gap, never reuse)", n2, n1+1)
	}
}

func TestOpenRegisterSessionRejectsSecondOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.OpenRegisterSession(ctx, domain.RegisterSession{RegisterID: "reg-1", CashierUsername: "ana"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.OpenRegisterSession(ctx, domain.RegisterSession{RegisterID: "reg-1", CashierUsername: "luis"}); err == nil {
		t.Fatalf("expected second open on the same register to fail")
	}

	closed, err := s.CloseRegisterSession(ctx, "reg-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.SessionStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("closed session = %+v", closed)
	}

	if _, err := s.GetOpenRegisterSession(ctx, "reg-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no open session after close, got %v", err)
	}
}
