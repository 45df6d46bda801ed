package sale

import (
	"context"
	"fmt"

	"dulceria/internal/domain"
	"dulceria/internal/store"
)

// expandCombo sells qty units of a combo: one conditional decrement against
// the combo's finished-goods counter, then a FEFO allocation per component.
// The combo decrement is a single attempt; a combo has one counter, so there
// is nothing to reselect when the race is lost.
func (e *Engine) expandCombo(ctx context.Context, tx store.SaleTx, saleID string, combo domain.Combo, qty int) (*domain.ComboSaleLine, error) {
	ok, err := tx.TryDecrementCombo(ctx, combo.ID, qty)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: combo %s drained below %d units", store.ErrStockConflict, combo.ID, qty)
	}

	for _, comp := range combo.Components {
		required := comp.QtyPerCombo * qty
		if err := e.allocate(ctx, tx, saleID, comp.ProductID, required, domain.OriginComboComponent); err != nil {
			return nil, err
		}
	}

	line := domain.ComboSaleLine{
		SaleID:         saleID,
		ComboID:        combo.ID,
		Qty:            qty,
		UnitPriceCents: combo.PriceCents,
		SubtotalCents:  combo.PriceCents * int64(qty),
	}
	if err := tx.InsertComboSaleLine(ctx, line); err != nil {
		return nil, err
	}
	return &line, nil
}
