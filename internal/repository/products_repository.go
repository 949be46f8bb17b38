package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"product-import-service/internal/models"
)

// Cache TTL constants
const (
	ProductCacheTTL = 5 * time.Minute
	productKeyFmt   = "products:cache:%s"
)

// ErrDuplicateSKU is returned when a create collides with an existing
// case-folded SKU.
var ErrDuplicateSKU = errors.New("product with this SKU already exists")

type ProductsRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewProductsRepository(db *gorm.DB, redis *redis.Client) *ProductsRepository {
	return &ProductsRepository{
		db:    db,
		redis: redis,
	}
}

// CreateProduct creates a new product
func (r *ProductsRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	product.SKU = strings.TrimSpace(product.SKU)
	product.SKUKey = models.FoldSKU(product.SKU)

	var existing int64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("sku_key = ?", product.SKUKey).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrDuplicateSKU
	}

	return r.db.WithContext(ctx).Create(product).Error
}

// GetProductByID retrieves a single product, read-through cached.
func (r *ProductsRepository) GetProductByID(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	key := fmt.Sprintf(productKeyFmt, productID.String())

	if r.redis != nil {
		if data, err := r.redis.Get(ctx, key).Bytes(); err == nil {
			var cached models.Product
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return &cached, nil
			}
		}
	}

	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", productID).Error; err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(product); err == nil {
			_ = r.redis.Set(ctx, key, data, ProductCacheTTL).Err()
		}
	}

	return &product, nil
}

// GetProductBySKU retrieves a product by its case-folded SKU.
func (r *ProductsRepository) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).First(&product, "sku_key = ?", models.FoldSKU(sku)).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns one page of products matching the filters, newest
// first, plus the unpaginated match count.
func (r *ProductsRepository) ListProducts(ctx context.Context, req *models.ListProductsRequest) ([]models.Product, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{})

	if req.SKU != "" {
		query = query.Where("sku_key LIKE ?", "%"+models.FoldSKU(req.SKU)+"%")
	}
	if req.Name != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(req.Name)+"%")
	}
	if req.Description != "" {
		query = query.Where("LOWER(description) LIKE ?", "%"+strings.ToLower(req.Description)+"%")
	}
	switch req.ActiveFilter {
	case "active":
		query = query.Where("active = ?", true)
	case "inactive":
		query = query.Where("active = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var products []models.Product
	offset := (req.Page - 1) * req.Limit
	err := query.Order("created_at DESC").Offset(offset).Limit(req.Limit).Find(&products).Error
	if err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// UpdateProduct applies a partial update and invalidates the cache entry.
func (r *ProductsRepository) UpdateProduct(ctx context.Context, productID uuid.UUID, req *models.UpdateProductRequest) (*models.Product, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if req.Name != nil {
		updates["name"] = req.Name
	}
	if req.Description != nil {
		updates["description"] = req.Description
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	result := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	r.invalidateProduct(ctx, productID)

	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", productID).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// DeleteProduct removes a product by id.
func (r *ProductsRepository) DeleteProduct(ctx context.Context, productID uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", productID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.invalidateProduct(ctx, productID)
	return nil
}

// UpsertBatch applies one deduplicated import batch in a single transaction.
// A matching sku_key is updated in place: name and description are
// overwritten only when the incoming value is non-empty, and active only
// when the row provided an explicit flag. A miss inserts with active=true
// unless the row said otherwise. Any row failure rolls the whole batch back
// so the task's processed counter only ever covers durable rows.
func (r *ProductsRepository) UpsertBatch(ctx context.Context, items []models.ProductUpsert) (*models.UpsertStats, error) {
	stats := &models.UpsertStats{}
	if len(items) == 0 {
		return stats, nil
	}

	affected := make([]uuid.UUID, 0, len(items))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			var existing models.Product
			err := tx.Where("sku_key = ?", item.SKUKey).First(&existing).Error

			switch {
			case err == nil:
				updates := map[string]interface{}{
					"sku":        item.SKU,
					"updated_at": time.Now(),
				}
				if item.Name != "" {
					updates["name"] = item.Name
				}
				if item.Description != "" {
					updates["description"] = item.Description
				}
				if item.Active != nil {
					updates["active"] = *item.Active
				}
				if err := tx.Model(&models.Product{}).
					Where("id = ?", existing.ID).
					Updates(updates).Error; err != nil {
					return fmt.Errorf("failed to update product %q: %w", item.SKU, err)
				}
				affected = append(affected, existing.ID)
				stats.Updated++

			case errors.Is(err, gorm.ErrRecordNotFound):
				product := models.Product{
					SKU:    item.SKU,
					SKUKey: item.SKUKey,
					Active: true,
				}
				if item.Name != "" {
					name := item.Name
					product.Name = &name
				}
				if item.Description != "" {
					description := item.Description
					product.Description = &description
				}
				if item.Active != nil {
					product.Active = *item.Active
				}
				if err := tx.Create(&product).Error; err != nil {
					return fmt.Errorf("failed to create product %q: %w", item.SKU, err)
				}
				affected = append(affected, product.ID)
				stats.Created++

			default:
				return fmt.Errorf("failed to look up product %q: %w", item.SKU, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range affected {
		r.invalidateProduct(ctx, id)
	}

	return stats, nil
}

func (r *ProductsRepository) invalidateProduct(ctx context.Context, productID uuid.UUID) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, fmt.Sprintf(productKeyFmt, productID.String())).Err()
}

// IsTransient reports whether a store error is plausibly transient
// (connectivity, timeout) and worth one retry; constraint and data errors
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"i/o timeout",
		"too many connections",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
