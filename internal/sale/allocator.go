package sale

import (
	"context"
	"errors"
	"fmt"

	"dulceria/internal/domain"
	"dulceria/internal/store"
	"dulceria/internal/xid"
)

// allocate drains requiredQty units of a product out of its lots in FEFO
// order, writing one consumption record per (lot, take). Losing a conditional
// decrement race is not a failure; the loop simply reselects. The loop is
// bounded so pathological thrashing surfaces as a stock conflict instead of
// spinning forever.
func (e *Engine) allocate(ctx context.Context, tx store.SaleTx, saleID string, productID string, requiredQty int, origin domain.ConsumptionOrigin) error {
	if requiredQty < 1 {
		return store.ErrInvalidRequest
	}

	remaining := requiredQty
	attempts := 0
	for remaining > 0 {
		attempts++
		if attempts > e.cfg.MaxAllocAttempts {
			return fmt.Errorf("%w: allocation for product %s exceeded %d attempts", store.ErrStockConflict, productID, e.cfg.MaxAllocAttempts)
		}

		candidate, err := tx.NextLotCandidate(ctx, productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: no sellable lot left for product %s (%d units unallocated)", store.ErrStockConflict, productID, remaining)
			}
			return err
		}

		take := remaining
		if candidate.QtyAvailable < take {
			take = candidate.QtyAvailable
		}

		ok, err := tx.TryDecrementLot(ctx, candidate.ID, take)
		if err != nil {
			return err
		}
		if !ok {
			// lost the race for this lot; reselect
			continue
		}

		err = tx.InsertLotConsumption(ctx, domain.LotConsumption{
			ID:        xid.New("cons"),
			SaleID:    saleID,
			ProductID: productID,
			LotID:     candidate.ID,
			Qty:       take,
			Origin:    origin,
		})
		if err != nil {
			return err
		}
		remaining -= take
	}

	return nil
}
