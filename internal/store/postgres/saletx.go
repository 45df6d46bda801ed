package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dulceria/internal/domain"
	"dulceria/internal/store"
	"dulceria/internal/xid"
)

// saleTx wraps a single database transaction for one sale. Stock decrements
// use conditional UPDATEs checked through RowsAffected, so two registers never
// take the same unit even without row locks held across round trips.
type saleTx struct {
	tx   *sql.Tx
	done bool
}

func (s *Store) BeginSale(ctx context.Context) (store.SaleTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &saleTx{tx: tx}, nil
}

func (t *saleTx) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := inClause(ids)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, price_cents, blocked, created_at
		FROM products
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Blocked, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (t *saleTx) GetCombosByIDs(ctx context.Context, ids []string) (map[string]domain.Combo, error) {
	result := make(map[string]domain.Combo, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := inClause(ids)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, price_cents, qty_available, active, created_at
		FROM combos
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var combo domain.Combo
		if err := rows.Scan(&combo.ID, &combo.Name, &combo.PriceCents, &combo.QtyAvailable, &combo.Active, &combo.CreatedAt); err != nil {
			return nil, err
		}
		result[combo.ID] = combo
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compRows, err := t.tx.QueryContext(ctx, `
		SELECT combo_id, product_id, qty_per_combo
		FROM combo_components
		WHERE combo_id IN (`+placeholders+`)
		ORDER BY combo_id, product_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer compRows.Close()

	for compRows.Next() {
		var comp domain.ComboComponent
		if err := compRows.Scan(&comp.ComboID, &comp.ProductID, &comp.QtyPerCombo); err != nil {
			return nil, err
		}
		combo, exists := result[comp.ComboID]
		if !exists {
			continue
		}
		combo.Components = append(combo.Components, comp)
		result[comp.ComboID] = combo
	}
	if err := compRows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (t *saleTx) ListLotsByProduct(ctx context.Context, productID string) ([]domain.Lot, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, lot_code, expiry_date, qty_received, qty_available, received_at
		FROM lots
		WHERE product_id = $1
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, 8)
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

func (t *saleTx) NextLotCandidate(ctx context.Context, productID string) (*domain.Lot, error) {
	var lot domain.Lot
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, product_id, lot_code, expiry_date, qty_received, qty_available, received_at
		FROM lots
		WHERE product_id = $1
		  AND qty_available > 0
		  AND (expiry_date IS NULL OR expiry_date >= date_trunc('day', now() AT TIME ZONE 'utc'))
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		LIMIT 1
	`, productID).Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.ExpiryDate, &lot.QtyReceived, &lot.QtyAvailable, &lot.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &lot, nil
}

func (t *saleTx) TryDecrementLot(ctx context.Context, lotID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalidRequest
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE lots
		SET qty_available = qty_available - $2
		WHERE id = $1 AND qty_available >= $2
	`, lotID, qty)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *saleTx) TryDecrementCombo(ctx context.Context, comboID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalidRequest
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE combos
		SET qty_available = qty_available - $2
		WHERE id = $1 AND qty_available >= $2
	`, comboID, qty)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *saleTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, ticket_code, cashier_username, register_id, tendered_cents, total_cents, change_cents, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sale.ID, sale.TicketCode, sale.CashierUsername, sale.RegisterID,
		sale.TenderedCents, sale.TotalCents, sale.ChangeCents, sale.Status, sale.CreatedAt)
	return err
}

func (t *saleTx) InsertSaleLine(ctx context.Context, line domain.SaleLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_lines (sale_id, product_id, qty, unit_price_cents, subtotal_cents)
		VALUES ($1,$2,$3,$4,$5)
	`, line.SaleID, line.ProductID, line.Qty, line.UnitPriceCents, line.SubtotalCents)
	return err
}

func (t *saleTx) InsertComboSaleLine(ctx context.Context, line domain.ComboSaleLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO combo_sale_lines (sale_id, combo_id, qty, unit_price_cents, subtotal_cents)
		VALUES ($1,$2,$3,$4,$5)
	`, line.SaleID, line.ComboID, line.Qty, line.UnitPriceCents, line.SubtotalCents)
	return err
}

func (t *saleTx) InsertLotConsumption(ctx context.Context, rec domain.LotConsumption) error {
	if rec.ID == "" {
		rec.ID = xid.New("cons")
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO lot_consumptions (id, sale_id, product_id, lot_id, qty, origin)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.SaleID, rec.ProductID, rec.LotID, rec.Qty, rec.Origin)
	return err
}

func (t *saleTx) SumLineSubtotals(ctx context.Context, saleID string) (int64, error) {
	var total int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT SUM(subtotal_cents) FROM sale_lines WHERE sale_id = $1), 0)
		     + COALESCE((SELECT SUM(subtotal_cents) FROM combo_sale_lines WHERE sale_id = $1), 0)
	`, saleID).Scan(&total)
	return total, err
}

func (t *saleTx) UpdateSaleTotals(ctx context.Context, saleID string, totalCents int64, changeCents int64, status string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET total_cents = $2, change_cents = $3, status = $4
		WHERE id = $1
	`, saleID, totalCents, changeCents, status)
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

// NextTicketNumber reads the shared ticket sequence. Sequence values survive
// rollback, so an aborted sale leaves a gap instead of reusing a number.
func (t *saleTx) NextTicketNumber(ctx context.Context) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `SELECT nextval('sale_ticket_seq')`).Scan(&n)
	return n, err
}

func (t *saleTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *saleTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}
	return strings.Join(placeholders, ","), args
}
