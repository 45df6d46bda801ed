package sale

import (
	"context"
	"fmt"
	"time"

	"dulceria/internal/domain"
	"dulceria/internal/store"
)

// cartView is the catalog snapshot resolved while validating a cart. The
// orchestrator reuses it for server-side prices and receipt names.
type cartView struct {
	products map[string]domain.Product
	combos   map[string]domain.Combo
}

// validate runs the ordered pre-flight checks over a normalized cart. All
// reads go through the sale transaction; nothing is mutated. The checks are
// advisory: stock can change between here and allocation, and allocation is
// the authoritative enforcement.
func (e *Engine) validate(ctx context.Context, tx store.SaleTx, cart domain.CartRequest, reg domain.RegisterContext, now time.Time) (*cartView, error) {
	if !reg.Open {
		return nil, rejectf("register %s has no open session", reg.RegisterID)
	}
	if reg.RegisterID == e.cfg.BoxOfficeRegisterID {
		return nil, rejectf("register %s is reserved for box-office ticket sales", reg.RegisterID)
	}

	productIDs := make([]string, 0, len(cart.Lines))
	comboIDs := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		switch line.Kind {
		case domain.CartLineProduct:
			productIDs = append(productIDs, line.ID)
		case domain.CartLineCombo:
			comboIDs = append(comboIDs, line.ID)
		}
	}

	products, err := tx.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	combos, err := tx.GetCombosByIDs(ctx, comboIDs)
	if err != nil {
		return nil, err
	}
	view := &cartView{products: products, combos: combos}

	for _, line := range cart.Lines {
		switch line.Kind {
		case domain.CartLineProduct:
			if err := e.checkProductLine(ctx, tx, view, line.ID, line.Qty, now); err != nil {
				return nil, err
			}
		case domain.CartLineCombo:
			if err := e.checkComboLine(ctx, tx, view, line.ID, line.Qty, now); err != nil {
				return nil, err
			}
		}
	}

	var preliminary int64
	for _, line := range cart.Lines {
		preliminary += int64(line.Qty) * line.UnitPriceCents
	}
	if preliminary > cart.TenderedCents {
		return nil, rejectf("tendered %d cents does not cover cart total %d cents", cart.TenderedCents, preliminary)
	}

	return view, nil
}

func (e *Engine) checkProductLine(ctx context.Context, tx store.SaleTx, view *cartView, productID string, qty int, now time.Time) error {
	product, exists := view.products[productID]
	if !exists {
		return rejectf("unknown product %s", productID)
	}

	lots, err := tx.ListLotsByProduct(ctx, productID)
	if err != nil {
		return err
	}

	state := domain.DeriveProductState(product, lots, now, e.cfg.LowStockThreshold, e.cfg.NearExpiryWindow)
	if !state.Sellable() {
		return rejectf("product %s is %s and cannot be sold", product.Name, state)
	}

	available := domain.SellableQty(lots, domain.DateUTC(now))
	if available < qty {
		return rejectf("insufficient stock for %s: %d available, %d requested", product.Name, available, qty)
	}
	return nil
}

func (e *Engine) checkComboLine(ctx context.Context, tx store.SaleTx, view *cartView, comboID string, qty int, now time.Time) error {
	combo, exists := view.combos[comboID]
	if !exists {
		return rejectf("unknown combo %s", comboID)
	}
	if !combo.Active {
		return rejectf("combo %s is not active", combo.Name)
	}
	if combo.QtyAvailable < qty {
		return rejectf("insufficient stock for combo %s: %d available, %d requested", combo.Name, combo.QtyAvailable, qty)
	}

	for _, comp := range combo.Components {
		required := comp.QtyPerCombo * qty
		product, exists := view.products[comp.ProductID]
		if !exists {
			fetched, err := tx.GetProductsByIDs(ctx, []string{comp.ProductID})
			if err != nil {
				return err
			}
			product, exists = fetched[comp.ProductID]
			if !exists {
				return fmt.Errorf("combo %s references missing product %s", combo.ID, comp.ProductID)
			}
			view.products[comp.ProductID] = product
		}

		lots, err := tx.ListLotsByProduct(ctx, comp.ProductID)
		if err != nil {
			return err
		}
		state := domain.DeriveProductState(product, lots, now, e.cfg.LowStockThreshold, e.cfg.NearExpiryWindow)
		if !state.Sellable() {
			return rejectf("product %s is %s and cannot be sold", product.Name, state)
		}
		available := domain.SellableQty(lots, domain.DateUTC(now))
		if available < required {
			return rejectf("insufficient stock for %s: %d available, %d requested", product.Name, available, required)
		}
	}
	return nil
}
