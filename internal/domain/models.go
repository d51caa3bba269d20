package domain

import "time"

// Order is a purchase accepted through the idempotent create endpoint.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Product: free-form product name, required.
//   - Amount: quantity ordered; the database rejects values below 1.
type Order struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Product   string    `json:"product"    gorm:"type:varchar(255);not null"`
	Amount    int       `json:"amount"     gorm:"not null;check:chk_orders_amount,amount > 0"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Product is a catalogue entry served by the search endpoint.
// NameFolded holds the Unicode case-folded Name and is what searches match
// against, so "STRASSE" finds "straße".
type Product struct {
	ID         string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name       string    `json:"name"       gorm:"type:varchar(255);not null"`
	NameFolded string    `json:"-"          gorm:"type:varchar(255);not null;index"`
	Price      float64   `json:"price"      gorm:"not null;check:chk_products_price,price >= 0"`
	Category   string    `json:"category"   gorm:"type:varchar(64);index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }
