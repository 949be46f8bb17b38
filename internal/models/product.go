package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product represents a catalog product.
// Identity is the case-folded SKU: SKUKey carries the unique index while SKU
// keeps the casing the row was uploaded with.
type Product struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	SKU         string    `json:"sku" gorm:"not null"`
	SKUKey      string    `json:"-" gorm:"column:sku_key;not null;uniqueIndex:idx_products_sku_key"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active" gorm:"not null;default:true;index"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName returns the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// BeforeCreate assigns an ID so the model works on databases without
// gen_random_uuid(), and keeps SKUKey in sync with SKU.
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SKUKey == "" {
		p.SKUKey = FoldSKU(p.SKU)
	}
	return nil
}

// FoldSKU normalizes a SKU for identity comparison. Display casing is kept on
// the record itself.
func FoldSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// ProductUpsert is one normalized import row applied to the store. Empty
// Name/Description mean "not provided" and never overwrite stored values; a
// nil Active preserves the stored flag.
type ProductUpsert struct {
	SKU         string
	SKUKey      string
	Name        string
	Description string
	Active      *bool
}

// UpsertStats summarizes one committed batch.
type UpsertStats struct {
	Created int
	Updated int
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	SKU         string  `json:"sku" binding:"required"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// UpdateProductRequest represents a request to update a product
type UpdateProductRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// ListProductsRequest carries listing filters and pagination
type ListProductsRequest struct {
	Page         int
	Limit        int
	SKU          string
	Name         string
	Description  string
	ActiveFilter string // "all", "active" or "inactive"
}

// Response types
type PaginationInfo struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

type ProductResponse struct {
	Success bool     `json:"success"`
	Data    *Product `json:"data"`
	Message *string  `json:"message,omitempty"`
}

type ProductListResponse struct {
	Success    bool            `json:"success"`
	Data       []Product       `json:"data"`
	Pagination *PaginationInfo `json:"pagination"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message *string     `json:"message,omitempty"`
}
