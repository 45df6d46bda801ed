// Package sale implements the transaction engine that turns a cart into a
// committed sale: pre-flight validation, FEFO lot allocation with
// conditional-decrement retries, combo expansion, server-side totaling, and
// ticket numbering. The whole sale runs inside one store transaction so any
// failure exit discards every partial mutation at once.
package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dulceria/internal/domain"
	"dulceria/internal/store"
	"dulceria/internal/xid"
)

type Config struct {
	// BoxOfficeRegisterID is the register reserved for ticket sales; carts
	// from it are rejected.
	BoxOfficeRegisterID string
	// MaxAllocAttempts bounds the allocator's reselect loop per product line.
	MaxAllocAttempts  int
	LowStockThreshold int
	NearExpiryWindow  time.Duration
}

const defaultMaxAllocAttempts = 300

type Engine struct {
	repo store.Repository
	cfg  Config
	log  *logrus.Entry
}

func NewEngine(repo store.Repository, cfg Config, log *logrus.Logger) *Engine {
	if cfg.MaxAllocAttempts < 1 {
		cfg.MaxAllocAttempts = defaultMaxAllocAttempts
	}
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = domain.DefaultLowStockThreshold
	}
	if cfg.NearExpiryWindow <= 0 {
		cfg.NearExpiryWindow = domain.DefaultNearExpiryWindow
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		repo: repo,
		cfg:  cfg,
		log:  log.WithField("component", "sale-engine"),
	}
}

// Sell processes one cart end to end and returns the committed receipt.
// Failure modes: *RejectionError for deterministic validation failures,
// store.ErrStockConflict when inventory was lost to concurrent sales,
// ErrInsufficientFunds when the recomputed total exceeds the tendered
// amount, store.ErrInvalidRequest for malformed carts. Any failure rolls the
// entire sale back, counters included.
func (e *Engine) Sell(ctx context.Context, cart domain.CartRequest, reg domain.RegisterContext) (*domain.SaleReceipt, error) {
	normalized, err := normalizeCart(cart)
	if err != nil {
		return nil, err
	}

	tx, err := e.repo.BeginSale(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	now := time.Now().UTC()

	ticketNumber, err := tx.NextTicketNumber(ctx)
	if err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		TicketCode:      formatTicket(ticketNumber),
		CashierUsername: reg.CashierUsername,
		RegisterID:      reg.RegisterID,
		TenderedCents:   normalized.TenderedCents,
		Status:          domain.SaleStatusPending,
		CreatedAt:       now,
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return nil, err
	}

	view, err := e.validate(ctx, tx, normalized, reg, now)
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) {
			e.log.WithFields(logrus.Fields{
				"register": reg.RegisterID,
				"reason":   rejection.Reason,
			}).Info("sale rejected")
		}
		return nil, err
	}

	receiptLines := make([]domain.ReceiptLine, 0, len(normalized.Lines))
	for _, line := range normalized.Lines {
		switch line.Kind {
		case domain.CartLineProduct:
			product := view.products[line.ID]
			if err := e.allocate(ctx, tx, sale.ID, line.ID, line.Qty, domain.OriginDirectSale); err != nil {
				return nil, err
			}
			saleLine := domain.SaleLine{
				SaleID:         sale.ID,
				ProductID:      line.ID,
				Qty:            line.Qty,
				UnitPriceCents: product.PriceCents,
				SubtotalCents:  product.PriceCents * int64(line.Qty),
			}
			if err := tx.InsertSaleLine(ctx, saleLine); err != nil {
				return nil, err
			}
			receiptLines = append(receiptLines, domain.ReceiptLine{
				Kind:           line.Kind,
				ID:             line.ID,
				Name:           product.Name,
				Qty:            line.Qty,
				UnitPriceCents: saleLine.UnitPriceCents,
				SubtotalCents:  saleLine.SubtotalCents,
			})
		case domain.CartLineCombo:
			combo := view.combos[line.ID]
			comboLine, err := e.expandCombo(ctx, tx, sale.ID, combo, line.Qty)
			if err != nil {
				return nil, err
			}
			receiptLines = append(receiptLines, domain.ReceiptLine{
				Kind:           line.Kind,
				ID:             line.ID,
				Name:           combo.Name,
				Qty:            line.Qty,
				UnitPriceCents: comboLine.UnitPriceCents,
				SubtotalCents:  comboLine.SubtotalCents,
			})
		}
	}

	total, err := tx.SumLineSubtotals(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	change := normalized.TenderedCents - total
	if change < 0 {
		return nil, fmt.Errorf("%w: total %d cents, tendered %d cents", ErrInsufficientFunds, total, normalized.TenderedCents)
	}

	if err := tx.UpdateSaleTotals(ctx, sale.ID, total, change, domain.SaleStatusCompleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"ticket":      sale.TicketCode,
		"register":    reg.RegisterID,
		"total_cents": total,
	}).Info("sale committed")

	return &domain.SaleReceipt{
		SaleID:        sale.ID,
		TicketCode:    sale.TicketCode,
		RegisterID:    reg.RegisterID,
		TotalCents:    total,
		TenderedCents: normalized.TenderedCents,
		ChangeCents:   change,
		Lines:         receiptLines,
		CreatedAt:     now.Format(time.RFC3339),
	}, nil
}

// normalizeCart checks the cart's shape and merges duplicate lines of the
// same item so each product or combo appears at most once. Quantities add;
// the first snapshot price wins.
func normalizeCart(cart domain.CartRequest) (domain.CartRequest, error) {
	if len(cart.Lines) == 0 {
		return cart, fmt.Errorf("%w: empty cart", store.ErrInvalidRequest)
	}
	if cart.TenderedCents < 0 {
		return cart, fmt.Errorf("%w: negative tendered amount", store.ErrInvalidRequest)
	}

	merged := make([]domain.CartLine, 0, len(cart.Lines))
	index := make(map[string]int, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Kind != domain.CartLineProduct && line.Kind != domain.CartLineCombo {
			return cart, fmt.Errorf("%w: unknown line kind %q", store.ErrInvalidRequest, line.Kind)
		}
		if strings.TrimSpace(line.ID) == "" {
			return cart, fmt.Errorf("%w: line missing id", store.ErrInvalidRequest)
		}
		if line.Qty < 1 {
			return cart, fmt.Errorf("%w: line quantity must be positive", store.ErrInvalidRequest)
		}
		if line.UnitPriceCents < 0 {
			return cart, fmt.Errorf("%w: negative unit price snapshot", store.ErrInvalidRequest)
		}

		key := line.Kind + "/" + line.ID
		if i, exists := index[key]; exists {
			merged[i].Qty += line.Qty
			continue
		}
		index[key] = len(merged)
		merged = append(merged, line)
	}

	normalized := cart
	normalized.Lines = merged
	return normalized, nil
}
