package domain

import (
	"slices"
	"testing"
	"time"
)

func datePtr(t time.Time) *time.Time {
	d := DateUTC(t)
	return &d
}

func TestCompareLotsFEFOOrdersByExpiryThenReceiptThenID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	lots := []Lot{
		{ID: "lot-d", ReceivedAt: now},                                                        // no expiry, sorts last
		{ID: "lot-c", ExpiryDate: datePtr(now.Add(240 * time.Hour)), ReceivedAt: now},         // latest expiry
		{ID: "lot-b", ExpiryDate: datePtr(now.Add(48 * time.Hour)), ReceivedAt: now},          // same expiry as lot-a, received later
		{ID: "lot-a", ExpiryDate: datePtr(now.Add(48 * time.Hour)), ReceivedAt: now.Add(-time.Hour)},
	}
	slices.SortFunc(lots, CompareLotsFEFO)

	got := []string{lots[0].ID, lots[1].ID, lots[2].ID, lots[3].ID}
	want := []string{"lot-a", "lot-b", "lot-c", "lot-d"}
	if !slices.Equal(got, want) {
		t.Fatalf("FEFO order = %v, want %v", got, want)
	}
}

func TestCompareLotsFEFOTieBreaksOnID(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	expiry := datePtr(now.Add(24 * time.Hour))

	a := Lot{ID: "lot-1", ExpiryDate: expiry, ReceivedAt: now}
	b := Lot{ID: "lot-2", ExpiryDate: expiry, ReceivedAt: now}

	if CompareLotsFEFO(a, b) >= 0 {
		t.Fatalf("expected lot-1 to sort before lot-2 on identical expiry and receipt")
	}
	if CompareLotsFEFO(a, a) != 0 {
		t.Fatalf("expected a lot to compare equal to itself")
	}
}

func TestLotExpired(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	yesterday := today.Add(-24 * time.Hour)
	if !LotExpired(Lot{ExpiryDate: &yesterday}, today) {
		t.Fatalf("lot expiring yesterday should be expired")
	}
	if LotExpired(Lot{ExpiryDate: &today}, today) {
		t.Fatalf("lot expiring today should still be sellable")
	}
	if LotExpired(Lot{}, today) {
		t.Fatalf("lot without expiry should never expire")
	}
}

func TestDeriveProductStatePrecedence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := datePtr(now.Add(-48 * time.Hour))
	soon := datePtr(now.Add(24 * time.Hour))
	later := datePtr(now.Add(500 * time.Hour))

	cases := []struct {
		name    string
		product Product
		lots    []Lot
		want    ProductState
	}{
		{
			name:    "blocked wins over everything",
			product: Product{Blocked: true},
			lots:    []Lot{{QtyAvailable: 100, ExpiryDate: later}},
			want:    StateBlocked,
		},
		{
			name: "all remaining units expired",
			lots: []Lot{{QtyAvailable: 5, ExpiryDate: past}},
			want: StateExpired,
		},
		{
			name: "near expiry beats low stock",
			lots: []Lot{{QtyAvailable: 3, ExpiryDate: soon}},
			want: StateNearExpiry,
		},
		{
			name: "low stock",
			lots: []Lot{{QtyAvailable: 4, ExpiryDate: later}},
			want: StateLowStock,
		},
		{
			name: "available",
			lots: []Lot{{QtyAvailable: 50, ExpiryDate: later}},
			want: StateAvailable,
		},
		{
			name: "expired lot alongside fresh stock is not expired",
			lots: []Lot{
				{QtyAvailable: 5, ExpiryDate: past},
				{QtyAvailable: 50, ExpiryDate: later},
			},
			want: StateAvailable,
		},
		{
			name: "no lots at all",
			want: StateLowStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveProductState(tc.product, tc.lots, now, 10, 72*time.Hour)
			if got != tc.want {
				t.Fatalf("DeriveProductState = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStateSellable(t *testing.T) {
	if StateExpired.Sellable() || StateBlocked.Sellable() {
		t.Fatalf("expired and blocked must not be sellable")
	}
	if !StateAvailable.Sellable() || !StateLowStock.Sellable() || !StateNearExpiry.Sellable() {
		t.Fatalf("available, low_stock and near_expiry must be sellable")
	}
}

func TestSellableQtySkipsExpiredAndEmptyLots(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	past := datePtr(now.Add(-24 * time.Hour))
	future := datePtr(now.Add(24 * time.Hour))

	lots := []Lot{
		{QtyAvailable: 5, ExpiryDate: future},
		{QtyAvailable: 3, ExpiryDate: past},
		{QtyAvailable: 0, ExpiryDate: future},
		{QtyAvailable: 7},
	}
	if got := SellableQty(lots, now); got != 12 {
		t.Fatalf("SellableQty = %d, want 12", got)
	}
}
