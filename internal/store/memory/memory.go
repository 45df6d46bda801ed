package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dulceria/internal/domain"
	"dulceria/internal/store"
	"dulceria/internal/xid"
)

type Store struct {
	mu                    sync.RWMutex
	products              map[string]domain.Product
	lots                  map[string]*domain.Lot
	combos                map[string]*domain.Combo
	salesByID             map[string]domain.Sale
	saleLinesBySale       map[string][]domain.SaleLine
	comboLinesBySale      map[string][]domain.ComboSaleLine
	consumptionsBySale    map[string][]domain.LotConsumption
	sessionsByID          map[string]domain.RegisterSession
	openSessionByRegister map[string]string
	auditLogs             []domain.AuditLog
	usersByUsername       map[string]domain.UserAccount
	ticketCounter         int64
}

func New() *Store {
	return &Store{
		products:              make(map[string]domain.Product),
		lots:                  make(map[string]*domain.Lot),
		combos:                make(map[string]*domain.Combo),
		salesByID:             make(map[string]domain.Sale),
		saleLinesBySale:       make(map[string][]domain.SaleLine),
		comboLinesBySale:      make(map[string][]domain.ComboSaleLine),
		consumptionsBySale:    make(map[string][]domain.LotConsumption),
		sessionsByID:          make(map[string]domain.RegisterSession),
		openSessionByRegister: make(map[string]string),
		auditLogs:             make([]domain.AuditLog, 0, 128),
		usersByUsername:       seedUsers(),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
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

// NewSeeded returns a store preloaded with a small concession catalog,
// expiring lots, and a couple of combos. Dev/demo only.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-popcorn-l", Name: "Palomitas Grandes", PriceCents: 8500, CreatedAt: now},
		{ID: "prod-popcorn-m", Name: "Palomitas Medianas", PriceCents: 6500, CreatedAt: now},
		{ID: "prod-soda-l", Name: "Refresco Grande", PriceCents: 4500, CreatedAt: now},
		{ID: "prod-soda-m", Name: "Refresco Mediano", PriceCents: 3500, CreatedAt: now},
		{ID: "prod-nachos", Name: "Nachos con Queso", PriceCents: 7200, CreatedAt: now},
		{ID: "prod-hotdog", Name: "Hot Dog", PriceCents: 5800, CreatedAt: now},
		{ID: "prod-candy", Name: "Gomitas", PriceCents: 2900, CreatedAt: now},
		{ID: "prod-water", Name: "Agua Embotellada", PriceCents: 2500, CreatedAt: now},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	expSoon := domain.DateUTC(now.Add(5 * 24 * time.Hour))
	expLater := domain.DateUTC(now.Add(30 * 24 * time.Hour))
	lots := []domain.Lot{
		{ID: "lot-popcorn-1", ProductID: "prod-popcorn-l", LotCode: "PC-L-001", ExpiryDate: &expSoon, QtyReceived: 40, QtyAvailable: 40, ReceivedAt: now.Add(-48 * time.Hour)},
		{ID: "lot-popcorn-2", ProductID: "prod-popcorn-l", LotCode: "PC-L-002", ExpiryDate: &expLater, QtyReceived: 120, QtyAvailable: 120, ReceivedAt: now.Add(-24 * time.Hour)},
		{ID: "lot-popcorn-m1", ProductID: "prod-popcorn-m", LotCode: "PC-M-001", ExpiryDate: &expLater, QtyReceived: 90, QtyAvailable: 90, ReceivedAt: now.Add(-24 * time.Hour)},
		{ID: "lot-soda-l1", ProductID: "prod-soda-l", LotCode: "SD-L-001", QtyReceived: 200, QtyAvailable: 200, ReceivedAt: now.Add(-72 * time.Hour)},
		{ID: "lot-soda-m1", ProductID: "prod-soda-m", LotCode: "SD-M-001", QtyReceived: 200, QtyAvailable: 200, ReceivedAt: now.Add(-72 * time.Hour)},
		{ID: "lot-nachos-1", ProductID: "prod-nachos", LotCode: "NC-001", ExpiryDate: &expSoon, QtyReceived: 60, QtyAvailable: 60, ReceivedAt: now.Add(-12 * time.Hour)},
		{ID: "lot-hotdog-1", ProductID: "prod-hotdog", LotCode: "HD-001", ExpiryDate: &expSoon, QtyReceived: 50, QtyAvailable: 50, ReceivedAt: now.Add(-12 * time.Hour)},
		{ID: "lot-candy-1", ProductID: "prod-candy", LotCode: "GM-001", ExpiryDate: &expLater, QtyReceived: 150, QtyAvailable: 150, ReceivedAt: now.Add(-96 * time.Hour)},
		{ID: "lot-water-1", ProductID: "prod-water", LotCode: "AG-001", QtyReceived: 300, QtyAvailable: 300, ReceivedAt: now.Add(-96 * time.Hour)},
	}
	for _, lot := range lots {
		l := lot
		s.lots[l.ID] = &l
	}

	combos := []domain.Combo{
		{
			ID: "combo-duo", Name: "Combo Dúo", PriceCents: 14500, QtyAvailable: 80, Active: true, CreatedAt: now,
			Components: []domain.ComboComponent{
				{ComboID: "combo-duo", ProductID: "prod-popcorn-l", QtyPerCombo: 1},
				{ComboID: "combo-duo", ProductID: "prod-soda-l", QtyPerCombo: 2},
			},
		},
		{
			ID: "combo-snack", Name: "Combo Botana", PriceCents: 11000, QtyAvailable: 50, Active: true, CreatedAt: now,
			Components: []domain.ComboComponent{
				{ComboID: "combo-snack", ProductID: "prod-nachos", QtyPerCombo: 1},
				{ComboID: "combo-snack", ProductID: "prod-soda-m", QtyPerCombo: 1},
			},
		},
	}
	for _, combo := range combos {
		c := cloneCombo(combo)
		s.combos[c.ID] = &c
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) SetProductBlocked(_ context.Context, id string, blocked bool) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Blocked = blocked
	s.products[id] = product
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateLot(_ context.Context, lot domain.Lot) (*domain.Lot, error) {
	if lot.ProductID == "" || lot.QtyReceived < 1 {
		return nil, store.ErrInvalidRequest
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if strings.TrimSpace(lot.LotCode) == "" {
		lot.LotCode = "MANUAL-" + lot.ID
	}
	if lot.QtyAvailable < 0 || lot.QtyAvailable > lot.QtyReceived {
		return nil, store.ErrInvalidRequest
	}
	if lot.QtyAvailable == 0 {
		lot.QtyAvailable = lot.QtyReceived
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[lot.ProductID]; !exists {
		return nil, store.ErrNotFound
	}
	stored := cloneLot(lot)
	s.lots[stored.ID] = &stored
	created := cloneLot(stored)
	return &created, nil
}

func (s *Store) ListLots(_ context.Context, productID string, includeExpired bool, limit int) ([]domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	today := domain.DateUTC(time.Now().UTC())
	result := make([]domain.Lot, 0, limit)
	for _, lot := range s.lots {
		if productID != "" && lot.ProductID != productID {
			continue
		}
		if !includeExpired && domain.LotExpired(*lot, today) {
			continue
		}
		result = append(result, cloneLot(*lot))
	}

	slices.SortFunc(result, domain.CompareLotsFEFO)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AggregateStock(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := domain.DateUTC(time.Now().UTC())
	result := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		result[id] = 0
	}
	for _, lot := range s.lots {
		if _, wanted := result[lot.ProductID]; !wanted {
			continue
		}
		if lot.QtyAvailable < 1 || domain.LotExpired(*lot, today) {
			continue
		}
		result[lot.ProductID] += lot.QtyAvailable
	}
	return result, nil
}

func (s *Store) CreateCombo(_ context.Context, combo domain.Combo) (*domain.Combo, error) {
	if strings.TrimSpace(combo.Name) == "" || combo.PriceCents < 1 || len(combo.Components) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if combo.QtyAvailable < 0 {
		return nil, store.ErrInvalidRequest
	}
	if combo.ID == "" {
		combo.ID = xid.New("combo")
	}
	if combo.CreatedAt.IsZero() {
		combo.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range combo.Components {
		combo.Components[i].ComboID = combo.ID
		if combo.Components[i].QtyPerCombo < 1 {
			return nil, store.ErrInvalidRequest
		}
		if _, exists := s.products[combo.Components[i].ProductID]; !exists {
			return nil, fmt.Errorf("%w: component product %s", store.ErrNotFound, combo.Components[i].ProductID)
		}
	}
	combo.Active = true
	stored := cloneCombo(combo)
	s.combos[stored.ID] = &stored
	created := cloneCombo(stored)
	return &created, nil
}

func (s *Store) ListCombos(_ context.Context) ([]domain.Combo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combos := make([]domain.Combo, 0, len(s.combos))
	for _, combo := range s.combos {
		combos = append(combos, cloneCombo(*combo))
	}
	slices.SortFunc(combos, func(a, b domain.Combo) int {
		return cmpString(a.Name, b.Name)
	})
	return combos, nil
}

func (s *Store) GetComboByID(_ context.Context, id string) (*domain.Combo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combo, exists := s.combos[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCombo := cloneCombo(*combo)
	return &copyCombo, nil
}

func (s *Store) SetComboActive(_ context.Context, id string, active bool) (*domain.Combo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	combo, exists := s.combos[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	combo.Active = active
	copyCombo := cloneCombo(*combo)
	return &copyCombo, nil
}

func (s *Store) OpenRegisterSession(_ context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	if strings.TrimSpace(session.RegisterID) == "" || strings.TrimSpace(session.CashierUsername) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessionByRegister[session.RegisterID]; exists {
		return nil, store.ErrInvalidRequest
	}
	if session.ID == "" {
		session.ID = xid.New("reg")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil

	s.sessionsByID[session.ID] = session
	s.openSessionByRegister[session.RegisterID] = session.ID
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseRegisterSession(_ context.Context, registerID string, closedAt time.Time) (*domain.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, exists := s.openSessionByRegister[registerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt

	delete(s.openSessionByRegister, registerID)
	s.sessionsByID[sessionID] = session
	copySession := session
	return &copySession, nil
}

func (s *Store) GetOpenRegisterSession(_ context.Context, registerID string) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessionByRegister[registerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) ListLotConsumptions(_ context.Context, saleID string) ([]domain.LotConsumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.consumptionsBySale[saleID]
	result := make([]domain.LotConsumption, len(recs))
	copy(result, recs)
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

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneLot(src domain.Lot) domain.Lot {
	dup := src
	if src.ExpiryDate != nil {
		expiry := src.ExpiryDate.UTC()
		dup.ExpiryDate = &expiry
	}
	return dup
}

func cloneCombo(src domain.Combo) domain.Combo {
	dup := src
	components := make([]domain.ComboComponent, len(src.Components))
	copy(components, src.Components)
	dup.Components = components
	return dup
}
