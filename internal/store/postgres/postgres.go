package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dulceria/internal/domain"
	"dulceria/internal/store"
	"dulceria/internal/xid"
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

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, blocked, created_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Blocked, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, blocked, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, product.ID, product.Name, product.PriceCents, product.Blocked, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, blocked, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.PriceCents, &product.Blocked, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) SetProductBlocked(ctx context.Context, id string, blocked bool) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET blocked = $2 WHERE id = $1
	`, id, blocked)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, id)
}

func (s *Store) CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (id, product_id, lot_code, expiry_date, qty_received, qty_available, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, lot.ID, lot.ProductID, lot.LotCode, lot.ExpiryDate, lot.QtyReceived, lot.QtyAvailable, lot.ReceivedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := lot
	return &created, nil
}

func (s *Store) ListLots(ctx context.Context, productID string, includeExpired bool, limit int) ([]domain.Lot, error) {
	if limit < 1 {
		limit = 200
	}

	query := `
		SELECT id, product_id, lot_code, expiry_date, qty_received, qty_available, received_at
		FROM lots
		WHERE ($1 = '' OR product_id = $1)
	`
	if !includeExpired {
		query += ` AND (expiry_date IS NULL OR expiry_date >= date_trunc('day', now() AT TIME ZONE 'utc'))`
	}
	query += `
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, limit)
	for rows.Next() {
		var lot domain.Lot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.ExpiryDate, &lot.QtyReceived, &lot.QtyAvailable, &lot.ReceivedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lots, nil
}

func (s *Store) AggregateStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	for _, id := range productIDs {
		result[id] = 0
	}

	placeholders := make([]string, 0, len(productIDs))
	args := make([]any, 0, len(productIDs))
	for i, id := range productIDs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT product_id, COALESCE(SUM(qty_available), 0)
		FROM lots
		WHERE product_id IN (%s)
		  AND qty_available > 0
		  AND (expiry_date IS NULL OR expiry_date >= date_trunc('day', now() AT TIME ZONE 'utc'))
		GROUP BY product_id
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error) {
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
	combo.Active = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO combos (id, name, price_cents, qty_available, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, combo.ID, combo.Name, combo.PriceCents, combo.QtyAvailable, combo.Active, combo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	for i := range combo.Components {
		combo.Components[i].ComboID = combo.ID
		if combo.Components[i].QtyPerCombo < 1 {
			return nil, store.ErrInvalidRequest
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO combo_components (combo_id, product_id, qty_per_combo)
			VALUES ($1,$2,$3)
		`, combo.ID, combo.Components[i].ProductID, combo.Components[i].QtyPerCombo)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: component product %s", store.ErrNotFound, combo.Components[i].ProductID)
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := combo
	return &created, nil
}

func (s *Store) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, qty_available, active, created_at
		FROM combos
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	combos := make([]domain.Combo, 0, 16)
	byID := make(map[string]int)
	for rows.Next() {
		var combo domain.Combo
		if err := rows.Scan(&combo.ID, &combo.Name, &combo.PriceCents, &combo.QtyAvailable, &combo.Active, &combo.CreatedAt); err != nil {
			return nil, err
		}
		byID[combo.ID] = len(combos)
		combos = append(combos, combo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compRows, err := s.db.QueryContext(ctx, `
		SELECT combo_id, product_id, qty_per_combo
		FROM combo_components
		ORDER BY combo_id, product_id
	`)
	if err != nil {
		return nil, err
	}
	defer compRows.Close()

	for compRows.Next() {
		var comp domain.ComboComponent
		if err := compRows.Scan(&comp.ComboID, &comp.ProductID, &comp.QtyPerCombo); err != nil {
			return nil, err
		}
		if idx, exists := byID[comp.ComboID]; exists {
			combos[idx].Components = append(combos[idx].Components, comp)
		}
	}
	if err := compRows.Err(); err != nil {
		return nil, err
	}

	return combos, nil
}

func (s *Store) GetComboByID(ctx context.Context, id string) (*domain.Combo, error) {
	var combo domain.Combo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, qty_available, active, created_at
		FROM combos
		WHERE id = $1
	`, id).Scan(&combo.ID, &combo.Name, &combo.PriceCents, &combo.QtyAvailable, &combo.Active, &combo.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT combo_id, product_id, qty_per_combo
		FROM combo_components
		WHERE combo_id = $1
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var comp domain.ComboComponent
		if err := rows.Scan(&comp.ComboID, &comp.ProductID, &comp.QtyPerCombo); err != nil {
			return nil, err
		}
		combo.Components = append(combo.Components, comp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &combo, nil
}

func (s *Store) SetComboActive(ctx context.Context, id string, active bool) (*domain.Combo, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE combos SET active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetComboByID(ctx, id)
}

func (s *Store) OpenRegisterSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	if strings.TrimSpace(session.RegisterID) == "" || strings.TrimSpace(session.CashierUsername) == "" {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_sessions (id, register_id, cashier_username, status, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,NULL)
	`, session.ID, session.RegisterID, session.CashierUsername, session.Status, session.OpenedAt)
	if err != nil {
		// partial unique index on (register_id) WHERE status = 'open'
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := session
	return &created, nil
}

func (s *Store) CloseRegisterSession(ctx context.Context, registerID string, closedAt time.Time) (*domain.RegisterSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var session domain.RegisterSession
	err := s.db.QueryRowContext(ctx, `
		UPDATE register_sessions
		SET status = $2, closed_at = $3
		WHERE register_id = $1 AND status = $4
		RETURNING id, register_id, cashier_username, status, opened_at, closed_at
	`, registerID, domain.SessionStatusClosed, closedAt, domain.SessionStatusOpen).
		Scan(&session.ID, &session.RegisterID, &session.CashierUsername, &session.Status, &session.OpenedAt, &session.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetOpenRegisterSession(ctx context.Context, registerID string) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, register_id, cashier_username, status, opened_at, closed_at
		FROM register_sessions
		WHERE register_id = $1 AND status = $2
	`, registerID, domain.SessionStatusOpen).
		Scan(&session.ID, &session.RegisterID, &session.CashierUsername, &session.Status, &session.OpenedAt, &session.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticket_code, cashier_username, register_id, tendered_cents, total_cents, change_cents, status, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.TicketCode, &sale.CashierUsername, &sale.RegisterID,
		&sale.TenderedCents, &sale.TotalCents, &sale.ChangeCents, &sale.Status, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListLotConsumptions(ctx context.Context, saleID string) ([]domain.LotConsumption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, lot_id, qty, origin
		FROM lot_consumptions
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]domain.LotConsumption, 0, 8)
	for rows.Next() {
		var rec domain.LotConsumption
		if err := rows.Scan(&rec.ID, &rec.SaleID, &rec.ProductID, &rec.LotID, &rec.Qty, &rec.Origin); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
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
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
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
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
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
		return store.ErrInvalidRequest
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
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

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
