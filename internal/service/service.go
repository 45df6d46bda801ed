package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dulceria/internal/cache"
	"dulceria/internal/domain"
	"dulceria/internal/sale"
	"dulceria/internal/store"
	"dulceria/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const catalogCacheKey = "catalog:v1"

type Config struct {
	CatalogTTL        time.Duration
	LowStockThreshold int
	NearExpiryWindow  time.Duration
}

type Service struct {
	repo    store.Repository
	engine  *sale.Engine
	catalog cache.CatalogCache
	cfg     Config
	log     *logrus.Entry
}

func New(repo store.Repository, engine *sale.Engine, catalog cache.CatalogCache, cfg Config, log *logrus.Logger) *Service {
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = 30 * time.Second
	}
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = domain.DefaultLowStockThreshold
	}
	if cfg.NearExpiryWindow <= 0 {
		cfg.NearExpiryWindow = domain.DefaultNearExpiryWindow
	}
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if log == nil {
		log = logrus.New()
	}

	return &Service{
		repo:    repo,
		engine:  engine,
		catalog: catalog,
		cfg:     cfg,
		log:     log.WithField("component", "service"),
	}
}

// ListCatalog returns every product with its derived lifecycle state and
// aggregate sellable stock. Served from cache when fresh; inventory
// mutations invalidate the cache.
func (s *Service) ListCatalog(ctx context.Context) ([]domain.ProductView, error) {
	if cached, hit, err := s.catalog.Get(ctx, catalogCacheKey); err == nil && hit {
		return cached, nil
	} else if err != nil {
		s.log.WithError(err).Warn("catalog cache read failed")
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]domain.ProductView, 0, len(products))
	for _, product := range products {
		lots, err := s.repo.ListLots(ctx, product.ID, true, 500)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.ProductView{
			Product:  product,
			State:    domain.DeriveProductState(product, lots, now, s.cfg.LowStockThreshold, s.cfg.NearExpiryWindow),
			StockQty: domain.SellableQty(lots, domain.DateUTC(now)),
		})
	}

	if err := s.catalog.Set(ctx, catalogCacheKey, views, s.cfg.CatalogTTL); err != nil {
		s.log.WithError(err).Warn("catalog cache write failed")
	}
	return views, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 1 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		PriceCents: req.PriceCents,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d", created.Name, created.PriceCents))
	return *created, nil
}

func (s *Service) SetProductBlocked(ctx context.Context, productID string, req domain.ProductBlockRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}

	updated, err := s.repo.SetProductBlocked(ctx, productID, req.Blocked)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_block", "product", updated.ID, fmt.Sprintf("blocked=%t", updated.Blocked))
	return *updated, nil
}

// ReceiveLot registers a new inventory lot for a product. The expiry date is
// an optional YYYY-MM-DD value; lots without one never expire.
func (s *Service) ReceiveLot(ctx context.Context, req domain.LotReceiveRequest) (domain.Lot, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Lot{}, err
	}
	if strings.TrimSpace(req.ProductID) == "" || req.Qty < 1 {
		return domain.Lot{}, store.ErrInvalidRequest
	}

	var expiry *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.ExpiryDate, time.UTC)
		if err != nil {
			return domain.Lot{}, fmt.Errorf("%w: invalid expiry date %q", store.ErrInvalidRequest, req.ExpiryDate)
		}
		expiry = &parsed
	}

	created, err := s.repo.CreateLot(ctx, domain.Lot{
		ProductID:   req.ProductID,
		LotCode:     strings.TrimSpace(req.LotCode),
		ExpiryDate:  expiry,
		QtyReceived: req.Qty,
	})
	if err != nil {
		return domain.Lot{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "lot_receive", "lot", created.ID, fmt.Sprintf("product=%s,qty=%d,expiry=%s", created.ProductID, created.QtyReceived, req.ExpiryDate))
	return *created, nil
}

func (s *Service) ListLots(ctx context.Context, productID string, includeExpired bool, limit int) ([]domain.Lot, error) {
	return s.repo.ListLots(ctx, productID, includeExpired, limit)
}

func (s *Service) CreateCombo(ctx context.Context, req domain.ComboCreateRequest) (domain.Combo, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Combo{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 1 || req.Qty < 0 || len(req.Components) == 0 {
		return domain.Combo{}, store.ErrInvalidRequest
	}

	components := make([]domain.ComboComponent, 0, len(req.Components))
	for _, comp := range req.Components {
		if strings.TrimSpace(comp.ProductID) == "" || comp.QtyPerCombo < 1 {
			return domain.Combo{}, store.ErrInvalidRequest
		}
		components = append(components, domain.ComboComponent{
			ProductID:   comp.ProductID,
			QtyPerCombo: comp.QtyPerCombo,
		})
	}

	created, err := s.repo.CreateCombo(ctx, domain.Combo{
		Name:         req.Name,
		PriceCents:   req.PriceCents,
		QtyAvailable: req.Qty,
		Components:   components,
	})
	if err != nil {
		return domain.Combo{}, err
	}

	s.logAudit(ctx, "combo_create", "combo", created.ID, fmt.Sprintf("name=%s,price=%d,qty=%d,components=%d", created.Name, created.PriceCents, created.QtyAvailable, len(created.Components)))
	return *created, nil
}

func (s *Service) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	return s.repo.ListCombos(ctx)
}

func (s *Service) SetComboActive(ctx context.Context, comboID string, req domain.ComboToggleRequest) (domain.Combo, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Combo{}, err
	}
	if strings.TrimSpace(comboID) == "" {
		return domain.Combo{}, store.ErrInvalidRequest
	}

	updated, err := s.repo.SetComboActive(ctx, comboID, req.Active)
	if err != nil {
		return domain.Combo{}, err
	}

	s.logAudit(ctx, "combo_toggle", "combo", updated.ID, fmt.Sprintf("active=%t", updated.Active))
	return *updated, nil
}

func (s *Service) OpenRegister(ctx context.Context, req domain.RegisterOpenRequest) (domain.RegisterSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.RegisterSession{}, errors.New("authenticated actor required")
	}
	if strings.TrimSpace(req.RegisterID) == "" {
		return domain.RegisterSession{}, store.ErrInvalidRequest
	}

	opened, err := s.repo.OpenRegisterSession(ctx, domain.RegisterSession{
		RegisterID:      req.RegisterID,
		CashierUsername: actor.Username,
	})
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(ctx, "register_open", "register_session", opened.ID, fmt.Sprintf("register=%s", opened.RegisterID))
	return *opened, nil
}

func (s *Service) CloseRegister(ctx context.Context, req domain.RegisterCloseRequest) (domain.RegisterSession, error) {
	if strings.TrimSpace(req.RegisterID) == "" {
		return domain.RegisterSession{}, store.ErrInvalidRequest
	}

	closed, err := s.repo.CloseRegisterSession(ctx, req.RegisterID, time.Now().UTC())
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(ctx, "register_close", "register_session", closed.ID, fmt.Sprintf("register=%s", closed.RegisterID))
	return *closed, nil
}

func (s *Service) GetActiveRegister(ctx context.Context, registerID string) (domain.RegisterSession, error) {
	if strings.TrimSpace(registerID) == "" {
		return domain.RegisterSession{}, store.ErrInvalidRequest
	}
	session, err := s.repo.GetOpenRegisterSession(ctx, registerID)
	if err != nil {
		return domain.RegisterSession{}, err
	}
	return *session, nil
}

// Checkout resolves the cart's register into a verified selling context and
// hands the cart to the sale engine. The engine owns validation, allocation,
// totaling, and atomicity; this layer only supplies the register facts and
// records the audit trail.
func (s *Service) Checkout(ctx context.Context, cart domain.CartRequest) (*domain.SaleReceipt, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, errors.New("authenticated actor required")
	}
	if strings.TrimSpace(cart.RegisterID) == "" {
		return nil, fmt.Errorf("%w: register id required", store.ErrInvalidRequest)
	}

	reg := domain.RegisterContext{
		RegisterID:      cart.RegisterID,
		CashierUsername: actor.Username,
	}
	session, err := s.repo.GetOpenRegisterSession(ctx, cart.RegisterID)
	switch {
	case err == nil:
		reg.Open = true
		reg.CashierUsername = session.CashierUsername
	case errors.Is(err, store.ErrNotFound):
		// engine rejects carts from registers without an open session
	default:
		return nil, err
	}

	receipt, err := s.engine.Sell(ctx, cart, reg)
	if err != nil {
		return nil, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale_commit", "sale", receipt.SaleID, fmt.Sprintf("ticket=%s,register=%s,total=%d", receipt.TicketCode, receipt.RegisterID, receipt.TotalCents))
	return receipt, nil
}

// GetSaleTrace returns the committed sale together with the exact lot
// consumptions that fulfilled it.
func (s *Service) GetSaleTrace(ctx context.Context, saleID string) (domain.Sale, []domain.LotConsumption, error) {
	if strings.TrimSpace(saleID) == "" {
		return domain.Sale{}, nil, store.ErrInvalidRequest
	}
	saleRec, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	consumptions, err := s.repo.ListLotConsumptions(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	return *saleRec, consumptions, nil
}

// ListAuditLogs returns the audit trail for one calendar day (YYYY-MM-DD,
// UTC), newest first.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	day := time.Now().UTC()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", store.ErrInvalidRequest, date)
		}
		day = parsed
	}
	from := domain.DateUTC(day)
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.CashierUser{}, err
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || len(req.Password) < 8 {
		return domain.CashierUser{}, fmt.Errorf("%w: username and a password of at least 8 characters required", store.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}

	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.CashierUser{}, err
	}

	s.logAudit(ctx, "cashier_create", "user", user.Username, "")
	return domain.CashierUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]domain.CashierUser, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, domain.CashierUser{
			Username:  account.Username,
			Role:      account.Role,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	return users, nil
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		s.log.WithError(err).Warn("catalog cache invalidation failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}
