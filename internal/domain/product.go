package domain

import (
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID int64 `json:"id" db:"id"`
	ProductFields
	Category       *Category `json:"category,omitempty"`
	SmallImagePath *string   `json:"smallImagePath" db:"small_image_path"`
	LargeImagePath *string   `json:"largeImagePath" db:"large_image_path"`
}

// ProductFields holds the user-editable attributes of a product. It is what
// create and edit requests carry; ids and image paths are owned by the service.
type ProductFields struct {
	Name             string          `json:"name" db:"name" validate:"required,max=255"`
	CategoryID       int64           `json:"categoryId" db:"category_id" validate:"required,gt=0"`
	Price            decimal.Decimal `json:"price" db:"price" validate:"gte=0"`
	Quantity         int             `json:"quantity" db:"quantity" validate:"gte=0"`
	ShortDescription string          `json:"shortDescription" db:"short_description" validate:"required,max=250"`
	LongDescription  string          `json:"longDescription" db:"long_description" validate:"max=1000"`
}

// Category represents a product category
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name" validate:"required,max=100"`
}

// Asset is an uploaded image as received from the caller.
type Asset struct {
	Filename string
	Data     []byte
}

// DeletedSummary identifies a removed product for caller-side notification.
type DeletedSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Summary returns the identity of p.
func (p *Product) Summary() DeletedSummary {
	return DeletedSummary{ID: p.ID, Name: p.Name}
}

// Apply copies the editable fields onto p, keeping its id and image paths.
func (p *Product) Apply(fields ProductFields) {
	p.ProductFields = fields
	if p.Category != nil && p.Category.ID != fields.CategoryID {
		p.Category = nil
	}
}
