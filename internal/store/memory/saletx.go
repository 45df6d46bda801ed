package memory

import (
	"context"
	"time"

	"dulceria/internal/domain"
	"dulceria/internal/store"
)

// counterUndo records a decrement applied to a live counter so it can be
// restored on rollback.
type counterUndo struct {
	id  string
	qty int
}

// saleTx is the in-memory sale unit of work. Counter decrements take effect
// immediately under the store lock (other registers see them at once), and an
// undo journal restores them on rollback. Row writes (sale header, lines,
// consumptions) are buffered and only land on Commit.
type saleTx struct {
	store *Store
	done  bool

	lotUndo   []counterUndo
	comboUndo []counterUndo

	sale         *domain.Sale
	saleLines    []domain.SaleLine
	comboLines   []domain.ComboSaleLine
	consumptions []domain.LotConsumption
}

func (s *Store) BeginSale(_ context.Context) (store.SaleTx, error) {
	return &saleTx{store: s}, nil
}

func (tx *saleTx) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := tx.store.products[id]; exists {
			result[id] = product
		}
	}
	return result, nil
}

func (tx *saleTx) GetCombosByIDs(_ context.Context, ids []string) (map[string]domain.Combo, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	result := make(map[string]domain.Combo, len(ids))
	for _, id := range ids {
		if combo, exists := tx.store.combos[id]; exists {
			result[id] = cloneCombo(*combo)
		}
	}
	return result, nil
}

func (tx *saleTx) ListLotsByProduct(_ context.Context, productID string) ([]domain.Lot, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	result := make([]domain.Lot, 0, 8)
	for _, lot := range tx.store.lots {
		if lot.ProductID != productID {
			continue
		}
		result = append(result, cloneLot(*lot))
	}
	return result, nil
}

func (tx *saleTx) NextLotCandidate(_ context.Context, productID string) (*domain.Lot, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	today := domain.DateUTC(time.Now().UTC())
	var best *domain.Lot
	for _, lot := range tx.store.lots {
		if lot.ProductID != productID || lot.QtyAvailable < 1 {
			continue
		}
		if domain.LotExpired(*lot, today) {
			continue
		}
		if best == nil || domain.CompareLotsFEFO(*lot, *best) < 0 {
			best = lot
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	candidate := cloneLot(*best)
	return &candidate, nil
}

func (tx *saleTx) TryDecrementLot(_ context.Context, lotID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalidRequest
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	lot, exists := tx.store.lots[lotID]
	if !exists || lot.QtyAvailable < qty {
		return false, nil
	}
	lot.QtyAvailable -= qty
	tx.lotUndo = append(tx.lotUndo, counterUndo{id: lotID, qty: qty})
	return true, nil
}

func (tx *saleTx) TryDecrementCombo(_ context.Context, comboID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalidRequest
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	combo, exists := tx.store.combos[comboID]
	if !exists || combo.QtyAvailable < qty {
		return false, nil
	}
	combo.QtyAvailable -= qty
	tx.comboUndo = append(tx.comboUndo, counterUndo{id: comboID, qty: qty})
	return true, nil
}

func (tx *saleTx) InsertSale(_ context.Context, sale domain.Sale) error {
	copySale := sale
	tx.sale = &copySale
	return nil
}

func (tx *saleTx) InsertSaleLine(_ context.Context, line domain.SaleLine) error {
	tx.saleLines = append(tx.saleLines, line)
	return nil
}

func (tx *saleTx) InsertComboSaleLine(_ context.Context, line domain.ComboSaleLine) error {
	tx.comboLines = append(tx.comboLines, line)
	return nil
}

func (tx *saleTx) InsertLotConsumption(_ context.Context, rec domain.LotConsumption) error {
	tx.consumptions = append(tx.consumptions, rec)
	return nil
}

func (tx *saleTx) SumLineSubtotals(_ context.Context, saleID string) (int64, error) {
	var total int64
	for _, line := range tx.saleLines {
		if line.SaleID == saleID {
			total += line.SubtotalCents
		}
	}
	for _, line := range tx.comboLines {
		if line.SaleID == saleID {
			total += line.SubtotalCents
		}
	}
	return total, nil
}

func (tx *saleTx) UpdateSaleTotals(_ context.Context, saleID string, totalCents int64, changeCents int64, status string) error {
	if tx.sale == nil || tx.sale.ID != saleID {
		return store.ErrNotFound
	}
	tx.sale.TotalCents = totalCents
	tx.sale.ChangeCents = changeCents
	tx.sale.Status = status
	return nil
}

// NextTicketNumber advances the store-wide ticket counter. The counter is
// deliberately outside the undo journal: an aborted sale leaves a gap in the
// ticket sequence rather than risking a duplicate.
func (tx *saleTx) NextTicketNumber(_ context.Context) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	tx.store.ticketCounter++
	return tx.store.ticketCounter, nil
}

func (tx *saleTx) Commit(_ context.Context) error {
	if tx.done {
		return nil
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if tx.sale != nil {
		tx.store.salesByID[tx.sale.ID] = *tx.sale
		if len(tx.saleLines) > 0 {
			tx.store.saleLinesBySale[tx.sale.ID] = append(tx.store.saleLinesBySale[tx.sale.ID], tx.saleLines...)
		}
		if len(tx.comboLines) > 0 {
			tx.store.comboLinesBySale[tx.sale.ID] = append(tx.store.comboLinesBySale[tx.sale.ID], tx.comboLines...)
		}
		if len(tx.consumptions) > 0 {
			tx.store.consumptionsBySale[tx.sale.ID] = append(tx.store.consumptionsBySale[tx.sale.ID], tx.consumptions...)
		}
	}
	tx.done = true
	return nil
}

func (tx *saleTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, undo := range tx.lotUndo {
		if lot, exists := tx.store.lots[undo.id]; exists {
			lot.QtyAvailable += undo.qty
		}
	}
	for _, undo := range tx.comboUndo {
		if combo, exists := tx.store.combos[undo.id]; exists {
			combo.QtyAvailable += undo.qty
		}
	}
	tx.lotUndo = nil
	tx.comboUndo = nil
	tx.done = true
	return nil
}
