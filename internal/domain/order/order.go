package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// PaymentStatus is the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Status is the fulfillment lifecycle of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// ErrNotFound is returned when an order does not exist or is not visible to the caller.
var ErrNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "order not found"}

// Order is a placed order with its priced line snapshot.
type Order struct {
	ID                int64
	UserID            int64
	CartID            int64
	ShippingAddressID int64
	BillingAddressID  int64
	// Country is the shipping destination captured at creation.
	Country        string
	International  bool
	Reference      string
	Currency       string
	ExchangeRate   decimal.Decimal
	DeliveryOption string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal

	// DeliveryFee is quoted after creation for international orders and
	// settled through its own charge.
	DeliveryFee       decimal.Decimal
	DeliveryFeePaid   bool
	DeliveryFeePaidAt *time.Time

	PaymentStatus    PaymentStatus
	Status           Status
	ConfirmationSent bool
	StockReleasedAt  *time.Time
	PaidAt           *time.Time

	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Item is an order line. Single lines carry a (variant, size); bundle lines
// carry the snapshot of their picks.
type Item struct {
	ID          int64
	OrderID     int64
	VariantID   int64
	SizeID      int64
	BundleID    int64
	ProductName string
	ColorName   string
	SizeName    string
	Quantity    int
	// Price is the unit price in the order currency.
	Price  decimal.Decimal
	Bundle []BundlePick
}

// BundlePick is a frozen record of one bundle slot.
type BundlePick struct {
	VariantID   int64  `json:"variant_id"`
	SizeID      int64  `json:"size_id"`
	ProductName string `json:"product_name"`
	ColorName   string `json:"color_name"`
	SizeName    string `json:"size_name"`
	Image       string `json:"image,omitempty"`
}

// IsBundle reports whether the item is a bundle line.
func (i Item) IsBundle() bool { return i.BundleID != 0 }

// Movements returns the stock units the line consumes.
func (i Item) Movements() []stock.Movement {
	if !i.IsBundle() {
		return []stock.Movement{{Key: stock.Key{VariantID: i.VariantID, SizeID: i.SizeID}, Quantity: i.Quantity}}
	}
	out := make([]stock.Movement, 0, len(i.Bundle))
	for _, p := range i.Bundle {
		out = append(out, stock.Movement{Key: stock.Key{VariantID: p.VariantID, SizeID: p.SizeID}, Quantity: i.Quantity})
	}
	return out
}

// Movements returns the aggregated stock the order consumes, in lock order.
func (o *Order) Movements() []stock.Movement {
	var all []stock.Movement
	for _, item := range o.Items {
		all = append(all, item.Movements()...)
	}
	return stock.Aggregate(all)
}

// Payable reports whether the order can still be paid.
func (o *Order) Payable() bool {
	return o.DeletedAt == nil && o.PaymentStatus == PaymentPending && o.Status == StatusPending
}

// Repository persists orders. Methods that change state must run inside a
// transaction; Lock methods take a row lock held until it ends.
type Repository interface {
	// Create stores o with its items and assigns ids and timestamps.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	Lock(ctx context.Context, id int64) (*Order, error)
	LockByReference(ctx context.Context, reference string) (*Order, error)

	// MarkPaid moves a pending payment to completed and the order to processing.
	// It reports false when the payment was no longer pending.
	MarkPaid(ctx context.Context, id int64, at time.Time) (bool, error)
	// MarkPaymentFailed moves a pending payment to failed.
	MarkPaymentFailed(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkConfirmationSent(ctx context.Context, id int64) (bool, error)
	// MarkStockReleased records that the order's stock went back to the
	// ledger. It reports false when that already happened.
	MarkStockReleased(ctx context.Context, id int64, at time.Time) (bool, error)
	Cancel(ctx context.Context, id int64, at time.Time) error
	// SoftDelete hides the order from normal queries.
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	// ListStale returns ids of unpaid, visible orders created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)

	SetDeliveryFee(ctx context.Context, id int64, fee decimal.Decimal, at time.Time) error
	MarkDeliveryFeePaid(ctx context.Context, id int64, at time.Time) (bool, error)
}
