package domain

import "time"

// ProductState is the derived lifecycle state of a product. It is computed
// from the blocked flag and the product's lots; it is never stored.
type ProductState string

const (
	StateAvailable  ProductState = "available"
	StateLowStock   ProductState = "low_stock"
	StateNearExpiry ProductState = "near_expiry"
	StateExpired    ProductState = "expired"
	StateBlocked    ProductState = "blocked"
)

// Sellable reports whether a product in this state may appear on a sale.
func (s ProductState) Sellable() bool {
	return s != StateExpired && s != StateBlocked
}

const (
	// DefaultLowStockThreshold marks products with this many sellable units
	// or fewer as low_stock.
	DefaultLowStockThreshold = 10
	// DefaultNearExpiryWindow marks products whose soonest-expiring sellable
	// lot expires within this window as near_expiry.
	DefaultNearExpiryWindow = 72 * time.Hour
)

// DeriveProductState computes the lifecycle state for a product given its
// lots. Precedence: blocked, expired, near_expiry, low_stock, available.
//
// A product is expired when all of its remaining units sit in expired lots.
// A product with no lots at all is simply low_stock at zero.
func DeriveProductState(p Product, lots []Lot, now time.Time, lowStockThreshold int, nearExpiryWindow time.Duration) ProductState {
	if p.Blocked {
		return StateBlocked
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	if nearExpiryWindow <= 0 {
		nearExpiryWindow = DefaultNearExpiryWindow
	}

	today := DateUTC(now)
	sellable := 0
	expiredHeld := 0
	nearExpiry := false
	for _, lot := range lots {
		if lot.QtyAvailable < 1 {
			continue
		}
		if LotExpired(lot, today) {
			expiredHeld += lot.QtyAvailable
			continue
		}
		sellable += lot.QtyAvailable
		if lot.ExpiryDate != nil && lot.ExpiryDate.Sub(today) <= nearExpiryWindow {
			nearExpiry = true
		}
	}

	if sellable == 0 && expiredHeld > 0 {
		return StateExpired
	}
	if nearExpiry {
		return StateNearExpiry
	}
	if sellable <= lowStockThreshold {
		return StateLowStock
	}
	return StateAvailable
}

// LotExpired reports whether the lot's expiry date is strictly before today.
// Lots without an expiry date never expire.
func LotExpired(lot Lot, today time.Time) bool {
	return lot.ExpiryDate != nil && lot.ExpiryDate.Before(today)
}

// SellableQty sums the available quantity across lots that are not expired.
func SellableQty(lots []Lot, today time.Time) int {
	total := 0
	for _, lot := range lots {
		if lot.QtyAvailable < 1 || LotExpired(lot, today) {
			continue
		}
		total += lot.QtyAvailable
	}
	return total
}

// CompareLotsFEFO orders lots for consumption: expiry date ascending with
// missing expiry sorting last, then receipt order, then ID. The tie-break
// chain makes consumption deterministic even when many lots share an expiry
// date or lack one entirely.
func CompareLotsFEFO(a Lot, b Lot) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	if a.ID == b.ID {
		return 0
	}
	if a.ID < b.ID {
		return -1
	}
	return 1
}

// DateUTC truncates a timestamp to its UTC calendar date.
func DateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
