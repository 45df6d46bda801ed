package domain

import "time"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Blocked    bool      `json:"blocked"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type ProductBlockRequest struct {
	Blocked bool `json:"blocked"`
}

// ProductView is the catalog projection served to registers: the product plus
// its derived lifecycle state and aggregate sellable stock across lots.
type ProductView struct {
	Product
	State    ProductState `json:"state"`
	StockQty int          `json:"stock_qty"`
}

type Lot struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	LotCode      string     `json:"lot_code"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	QtyReceived  int        `json:"qty_received"`
	QtyAvailable int        `json:"qty_available"`
	ReceivedAt   time.Time  `json:"received_at"`
}

type LotReceiveRequest struct {
	ProductID  string `json:"product_id"`
	LotCode    string `json:"lot_code"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	Qty        int    `json:"qty"`
}

type Combo struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	PriceCents   int64            `json:"price_cents"`
	QtyAvailable int              `json:"qty_available"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"created_at"`
	Components   []ComboComponent `json:"components"`
}

type ComboComponent struct {
	ComboID     string `json:"combo_id"`
	ProductID   string `json:"product_id"`
	QtyPerCombo int    `json:"qty_per_combo"`
}

type ComboCreateRequest struct {
	Name       string                `json:"name"`
	PriceCents int64                 `json:"price_cents"`
	Qty        int                   `json:"qty"`
	Components []ComboComponentInput `json:"components"`
}

type ComboComponentInput struct {
	ProductID   string `json:"product_id"`
	QtyPerCombo int    `json:"qty_per_combo"`
}

type ComboToggleRequest struct {
	Active bool `json:"active"`
}

type Sale struct {
	ID              string    `json:"id"`
	TicketCode      string    `json:"ticket_code"`
	CashierUsername string    `json:"cashier_username"`
	RegisterID      string    `json:"register_id"`
	TenderedCents   int64     `json:"tendered_cents"`
	TotalCents      int64     `json:"total_cents"`
	ChangeCents     int64     `json:"change_cents"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

type SaleLine struct {
	SaleID         string `json:"sale_id"`
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type ComboSaleLine struct {
	SaleID         string `json:"sale_id"`
	ComboID        string `json:"combo_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// ConsumptionOrigin tags a lot consumption row with how the units left the
// shelf: as a direct product line or expanded out of a combo.
type ConsumptionOrigin string

const (
	OriginDirectSale     ConsumptionOrigin = "direct_sale"
	OriginComboComponent ConsumptionOrigin = "combo_component"
)

// LotConsumption records exactly which lot supplied how many units for a sale.
// It is written during allocation and only ever read back for auditing.
type LotConsumption struct {
	ID        string            `json:"id"`
	SaleID    string            `json:"sale_id"`
	ProductID string            `json:"product_id"`
	LotID     string            `json:"lot_id"`
	Qty       int               `json:"qty"`
	Origin    ConsumptionOrigin `json:"origin"`
}

const (
	CartLineProduct = "product"
	CartLineCombo   = "combo"
)

// CartLine is one entry of an incoming cart. UnitPriceCents is the price the
// register displayed when the line was added; it feeds the pre-flight
// affordability check only and is never trusted for the committed total.
type CartLine struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CartRequest struct {
	RegisterID    string     `json:"register_id"`
	TenderedCents int64      `json:"tendered_cents"`
	Lines         []CartLine `json:"lines"`
}

// RegisterContext is the externally verified selling context: which register
// the cart came from, whether a session is open on it, and who is behind it.
type RegisterContext struct {
	RegisterID      string
	CashierUsername string
	Open            bool
}

type ReceiptLine struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// SaleReceipt is the committed-sale shape handed to receipt rendering.
type SaleReceipt struct {
	SaleID        string        `json:"sale_id"`
	TicketCode    string        `json:"ticket_code"`
	RegisterID    string        `json:"register_id"`
	TotalCents    int64         `json:"total_cents"`
	TenderedCents int64         `json:"tendered_cents"`
	ChangeCents   int64         `json:"change_cents"`
	Lines         []ReceiptLine `json:"lines"`
	CreatedAt     string        `json:"created_at"`
}

type RegisterSession struct {
	ID              string     `json:"id"`
	RegisterID      string     `json:"register_id"`
	CashierUsername string     `json:"cashier_username"`
	Status          string     `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

type RegisterOpenRequest struct {
	RegisterID string `json:"register_id"`
}

type RegisterCloseRequest struct {
	RegisterID string `json:"register_id"`
}

type RegisterSessionResponse struct {
	Session RegisterSession `json:"session"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)
