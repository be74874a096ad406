package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	ImageURL      string          `json:"image_url,omitempty"`
	CategoryID    *int64          `json:"category_id,omitempty"`
	StockQuantity int             `json:"stock_quantity"`
	InStock       bool            `json:"in_stock"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

type Promotion struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	StartsAt      time.Time       `json:"starts_at"`
	EndsAt        time.Time       `json:"ends_at"`
	IsActive      bool            `json:"is_active"`
	ProductIDs    []int64         `json:"product_ids"`
}

type Cart struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Items      []CartItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Shipping   decimal.Decimal `json:"shipping"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type CartItem struct {
	ID        uuid.UUID       `json:"id"`
	CartID    int64           `json:"cart_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentVNPay   PaymentMethod = "vnpay"
	PaymentMomo    PaymentMethod = "momo"
	PaymentZaloPay PaymentMethod = "zalopay"
)

var validPaymentMethods = map[PaymentMethod]struct{}{
	PaymentCOD:     {},
	PaymentVNPay:   {},
	PaymentMomo:    {},
	PaymentZaloPay: {},
}

func ValidPaymentMethod(m PaymentMethod) bool {
	_, ok := validPaymentMethods[m]
	return ok
}

// ShippingInfo is copied onto the order at creation time and only mutable
// through the pending-only update-info path.
type ShippingInfo struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (s ShippingInfo) Validate() bool {
	return s.Name != "" && s.Phone != "" && s.Address != ""
}

type Order struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	OrderNumber  string          `json:"order_number"`
	Status       OrderStatus     `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Shipping     decimal.Decimal `json:"shipping"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	ShippingInfo ShippingInfo    `json:"shipping_info"`
	Items        []OrderItem     `json:"items,omitempty"`
	Tracking     []OrderTracking `json:"tracking,omitempty"`
	History      []OrderHistory  `json:"history,omitempty"`
	Note         string          `json:"note,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int             `json:"version"`
}

// OrderItem snapshots the product at order time; catalog edits afterwards
// never change it.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
	Size        string          `json:"size"`
	Color       string          `json:"color"`
	Price       decimal.Decimal `json:"price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type OrderTracking struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	Status      string    `json:"status"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

type OrderHistory struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
