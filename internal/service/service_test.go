package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"dulceria/internal/cache"
	"dulceria/internal/domain"
	"dulceria/internal/sale"
	"dulceria/internal/store"
	"dulceria/internal/store/memory"
)

// recordingCache counts cache traffic so tests can assert invalidation
// without a running Redis.
type recordingCache struct {
	mu          sync.Mutex
	store       map[string][]domain.ProductView
	sets        int
	invalidates int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: map[string][]domain.ProductView{}}
}

func (c *recordingCache) Get(_ context.Context, key string) ([]domain.ProductView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	views, ok := c.store[key]
	return views, ok, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value []domain.ProductView, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
	c.sets++
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.invalidates++
	return nil
}

var _ cache.CatalogCache = (*recordingCache)(nil)

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingCache) {
	t.Helper()
	repo := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	engine := sale.NewEngine(repo, sale.Config{BoxOfficeRegisterID: "box-office"}, log)
	catalog := newRecordingCache()
	svc := New(repo, engine, catalog, Config{}, log)
	return svc, repo, catalog
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "ana", Role: "cashier"})
}

func TestAdminOnlyOperationsRejectCashier(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	calls := []struct {
		name string
		run  func() error
	}{
		{"CreateProduct", func() error {
			_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "X", PriceCents: 100})
			return err
		}},
		{"SetProductBlocked", func() error {
			_, err := svc.SetProductBlocked(ctx, "prod-x", domain.ProductBlockRequest{Blocked: true})
			return err
		}},
		{"ReceiveLot", func() error {
			_, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-x", Qty: 1})
			return err
		}},
		{"CreateCombo", func() error {
			_, err := svc.CreateCombo(ctx, domain.ComboCreateRequest{Name: "X", PriceCents: 100, Components: []domain.ComboComponentInput{{ProductID: "prod-x", QtyPerCombo: 1}}})
			return err
		}},
		{"SetComboActive", func() error {
			_, err := svc.SetComboActive(ctx, "combo-x", domain.ComboToggleRequest{Active: false})
			return err
		}},
		{"ListAuditLogs", func() error {
			_, err := svc.ListAuditLogs(ctx, "", 10)
			return err
		}},
		{"CreateCashier", func() error {
			_, err := svc.CreateCashier(ctx, domain.CashierCreateRequest{Username: "b", Password: "longenough"})
			return err
		}},
		{"ListCashiers", func() error {
			_, err := svc.ListCashiers(ctx)
			return err
		}},
	}
	for _, call := range calls {
		err := call.run()
		if err == nil || !strings.Contains(err.Error(), "admin role required") {
			t.Fatalf("%s with cashier actor: got %v, want admin role required", call.name, err)
		}
	}
}

func TestCheckoutRequiresAuthenticatedActor(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Checkout(context.Background(), domain.CartRequest{RegisterID: "reg-1"})
	if err == nil || !strings.Contains(err.Error(), "authenticated actor required") {
		t.Fatalf("got %v, want authenticated actor required", err)
	}
}

func TestCheckoutRejectsRegisterWithoutOpenSession(t *testing.T) {
	svc, repo, _ := newTestService(t)

	if _, err := repo.CreateProduct(context.Background(), domain.Product{ID: "prod-w", Name: "Agua", PriceCents: 2500}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(context.Background(), domain.Lot{ID: "lot-w", ProductID: "prod-w", QtyReceived: 10}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}

	_, err := svc.Checkout(cashierCtx(), domain.CartRequest{
		RegisterID:    "reg-1",
		TenderedCents: 10000,
		Lines:         []domain.CartLine{{Kind: domain.CartLineProduct, ID: "prod-w", Qty: 1, UnitPriceCents: 2500}},
	})

	var rejection *sale.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("got %v, want rejection for register without open session", err)
	}
}

func TestOpenRegisterThenCheckout(t *testing.T) {
	svc, repo, catalog := newTestService(t)
	ctx := cashierCtx()

	if _, err := repo.CreateProduct(context.Background(), domain.Product{ID: "prod-w", Name: "Agua", PriceCents: 2500}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(context.Background(), domain.Lot{ID: "lot-w", ProductID: "prod-w", QtyReceived: 10}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}

	session, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{RegisterID: "reg-1"})
	if err != nil {
		t.Fatalf("open register: %v", err)
	}
	if session.CashierUsername != "ana" || session.Status != domain.SessionStatusOpen {
		t.Fatalf("session = %+v", session)
	}

	receipt, err := svc.Checkout(ctx, domain.CartRequest{
		RegisterID:    "reg-1",
		TenderedCents: 10000,
		Lines:         []domain.CartLine{{Kind: domain.CartLineProduct, ID: "prod-w", Qty: 2, UnitPriceCents: 2500}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if receipt.TotalCents != 5000 || receipt.ChangeCents != 5000 {
		t.Fatalf("receipt = %+v", receipt)
	}

	if catalog.invalidates == 0 {
		t.Fatal("checkout did not invalidate the catalog cache")
	}

	sold, err := repo.GetSaleByID(context.Background(), receipt.SaleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sold.CashierUsername != "ana" {
		t.Fatalf("sale cashier = %q, want ana", sold.CashierUsername)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "sale_commit" && entry.EntityID == receipt.SaleID {
			found = true
		}
	}
	if !found {
		t.Fatalf("no sale_commit audit entry for %s in %+v", receipt.SaleID, logs)
	}
}

func TestCloseRegisterBlocksFurtherCheckouts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	if _, err := repo.CreateProduct(context.Background(), domain.Product{ID: "prod-w", Name: "Agua", PriceCents: 2500}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(context.Background(), domain.Lot{ID: "lot-w", ProductID: "prod-w", QtyReceived: 10}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{RegisterID: "reg-1"}); err != nil {
		t.Fatalf("open register: %v", err)
	}
	if _, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{RegisterID: "reg-1"}); err != nil {
		t.Fatalf("close register: %v", err)
	}
	if _, err := svc.GetActiveRegister(ctx, "reg-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("active register after close: %v, want ErrNotFound", err)
	}

	_, err := svc.Checkout(ctx, domain.CartRequest{
		RegisterID:    "reg-1",
		TenderedCents: 10000,
		Lines:         []domain.CartLine{{Kind: domain.CartLineProduct, ID: "prod-w", Qty: 1, UnitPriceCents: 2500}},
	})
	var rejection *sale.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("checkout after close: %v, want rejection", err)
	}
}

func TestListCatalogDerivesStatesAndCaches(t *testing.T) {
	svc, repo, catalog := newTestService(t)
	ctx := context.Background()

	if _, err := repo.CreateProduct(ctx, domain.Product{ID: "prod-full", Name: "Palomitas", PriceCents: 8000}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(ctx, domain.Lot{ID: "lot-full", ProductID: "prod-full", QtyReceived: 50}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	if _, err := repo.CreateProduct(ctx, domain.Product{ID: "prod-thin", Name: "Gomitas", PriceCents: 2900}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(ctx, domain.Lot{ID: "lot-thin", ProductID: "prod-thin", QtyReceived: 3}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}

	views, err := svc.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("list catalog: %v", err)
	}
	byID := map[string]domain.ProductView{}
	for _, view := range views {
		byID[view.ID] = view
	}
	if got := byID["prod-full"]; got.State != domain.StateAvailable || got.StockQty != 50 {
		t.Fatalf("prod-full view = %+v", got)
	}
	if got := byID["prod-thin"]; got.State != domain.StateLowStock || got.StockQty != 3 {
		t.Fatalf("prod-thin view = %+v", got)
	}

	if catalog.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", catalog.sets)
	}

	// second read is served from cache
	if _, err := svc.ListCatalog(ctx); err != nil {
		t.Fatalf("cached list catalog: %v", err)
	}
	if catalog.sets != 1 {
		t.Fatalf("cache sets after warm read = %d, want 1", catalog.sets)
	}

	// inventory mutations drop the cached catalog
	if _, err := svc.ReceiveLot(adminCtx(), domain.LotReceiveRequest{ProductID: "prod-thin", Qty: 20}); err != nil {
		t.Fatalf("receive lot: %v", err)
	}
	if catalog.invalidates == 0 {
		t.Fatal("receive lot did not invalidate the catalog cache")
	}
	views, err = svc.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("list catalog after restock: %v", err)
	}
	for _, view := range views {
		if view.ID == "prod-thin" && view.State != domain.StateAvailable {
			t.Fatalf("prod-thin after restock = %+v, want available", view)
		}
	}
}

func TestReceiveLotParsesExpiryDate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := adminCtx()

	if _, err := repo.CreateProduct(context.Background(), domain.Product{ID: "prod-w", Name: "Agua", PriceCents: 2500}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	_, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-w", Qty: 5, ExpiryDate: "not-a-date"})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("invalid expiry: %v, want ErrInvalidRequest", err)
	}

	lot, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-w", Qty: 5, ExpiryDate: "2027-03-15"})
	if err != nil {
		t.Fatalf("receive lot: %v", err)
	}
	if lot.ExpiryDate == nil || !lot.ExpiryDate.Equal(time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("lot expiry = %v, want 2027-03-15", lot.ExpiryDate)
	}
	if lot.QtyAvailable != 5 {
		t.Fatalf("lot available = %d, want 5", lot.QtyAvailable)
	}
}

func TestCreateCashierValidatesAndHashes(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := adminCtx()

	if _, err := svc.CreateCashier(ctx, domain.CashierCreateRequest{Username: "Bea", Password: "short"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("short password: %v, want ErrInvalidRequest", err)
	}

	created, err := svc.CreateCashier(ctx, domain.CashierCreateRequest{Username: "  Bea  ", Password: "supersecret"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Username != "bea" || created.Role != "cashier" || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	accounts, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, account := range accounts {
		if account.Username == "bea" {
			if account.Password == "supersecret" {
				t.Fatal("password stored in plaintext")
			}
			if !strings.HasPrefix(account.Password, "$2") {
				t.Fatalf("password %q is not a bcrypt hash", account.Password)
			}
			return
		}
	}
	t.Fatal("cashier bea not persisted")
}

func TestGetSaleTraceReturnsConsumptions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	if _, err := repo.CreateProduct(context.Background(), domain.Product{ID: "prod-w", Name: "Agua", PriceCents: 2500}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := repo.CreateLot(context.Background(), domain.Lot{ID: "lot-w", ProductID: "prod-w", QtyReceived: 10}); err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{RegisterID: "reg-1"}); err != nil {
		t.Fatalf("open register: %v", err)
	}

	receipt, err := svc.Checkout(ctx, domain.CartRequest{
		RegisterID:    "reg-1",
		TenderedCents: 10000,
		Lines:         []domain.CartLine{{Kind: domain.CartLineProduct, ID: "prod-w", Qty: 3, UnitPriceCents: 2500}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	sold, consumptions, err := svc.GetSaleTrace(ctx, receipt.SaleID)
	if err != nil {
		t.Fatalf("get sale trace: %v", err)
	}
	if sold.TicketCode != receipt.TicketCode {
		t.Fatalf("trace ticket = %q, want %q", sold.TicketCode, receipt.TicketCode)
	}
	total := 0
	for _, rec := range consumptions {
		total += rec.Qty
	}
	if total != 3 {
		t.Fatalf("consumed qty = %d, want 3", total)
	}
}
