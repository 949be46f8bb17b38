package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"product-import-service/internal/models"
	"product-import-service/internal/repository"
)

type ProductsHandler struct {
	repo            *repository.ProductsRepository
	logger          *logrus.Logger
	defaultPageSize int
	maxPageSize     int
}

func NewProductsHandler(repo *repository.ProductsRepository, logger *logrus.Logger, defaultPageSize, maxPageSize int) *ProductsHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &ProductsHandler{
		repo:            repo,
		logger:          logger,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// CreateProduct creates a new product
// POST /api/v1/products
func (h *ProductsHandler) CreateProduct(c *gin.Context) {
	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
		return
	}

	if models.FoldSKU(req.SKU) == "" {
		h.errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", "SKU must not be blank", "sku")
		return
	}

	product := &models.Product{
		SKU:         req.SKU,
		SKUKey:      models.FoldSKU(req.SKU),
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	if err := h.repo.CreateProduct(c.Request.Context(), product); err != nil {
		if errors.Is(err, repository.ErrDuplicateSKU) {
			h.errorJSON(c, http.StatusConflict, "DUPLICATE_SKU", "A product with this SKU already exists", "sku")
			return
		}
		h.logger.WithError(err).Error("Failed to create product")
		h.errorJSON(c, http.StatusInternalServerError, "CREATION_FAILED", "Failed to create product", "")
		return
	}

	c.JSON(http.StatusCreated, models.ProductResponse{
		Success: true,
		Data:    product,
	})
}

// GetProduct returns a single product by ID
// GET /api/v1/products/:id
func (h *ProductsHandler) GetProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Product ID must be a valid UUID", "id")
		return
	}

	product, err := h.repo.GetProductByID(c.Request.Context(), productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Product not found", "")
			return
		}
		h.logger.WithError(err).Error("Failed to load product")
		h.errorJSON(c, http.StatusInternalServerError, "FETCH_FAILED", "Failed to load product", "")
		return
	}

	c.JSON(http.StatusOK, models.ProductResponse{
		Success: true,
		Data:    product,
	})
}

// ListProducts returns a paginated, filterable product listing
// GET /api/v1/products
func (h *ProductsHandler) ListProducts(c *gin.Context) {
	req := &models.ListProductsRequest{
		Page:         1,
		Limit:        h.defaultPageSize,
		SKU:          c.Query("sku"),
		Name:         c.Query("name"),
		Description:  c.Query("description"),
		ActiveFilter: c.DefaultQuery("active", "all"),
	}

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		req.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && limit > 0 {
		req.Limit = limit
		if req.Limit > h.maxPageSize {
			req.Limit = h.maxPageSize
		}
	}

	switch req.ActiveFilter {
	case "all", "active", "inactive":
	default:
		h.errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", "active filter must be one of all, active, inactive", "active")
		return
	}

	products, total, err := h.repo.ListProducts(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		h.errorJSON(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list products", "")
		return
	}

	totalPages := int((total + int64(req.Limit) - 1) / int64(req.Limit))

	c.JSON(http.StatusOK, models.ProductListResponse{
		Success: true,
		Data:    products,
		Pagination: &models.PaginationInfo{
			Page:        req.Page,
			Limit:       req.Limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNext:     req.Page < totalPages,
			HasPrevious: req.Page > 1,
		},
	})
}

// UpdateProduct applies a partial update to a product
// PATCH /api/v1/products/:id
func (h *ProductsHandler) UpdateProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Product ID must be a valid UUID", "id")
		return
	}

	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
		return
	}

	product, err := h.repo.UpdateProduct(c.Request.Context(), productID, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Product not found", "")
			return
		}
		h.logger.WithError(err).Error("Failed to update product")
		h.errorJSON(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update product", "")
		return
	}

	c.JSON(http.StatusOK, models.ProductResponse{
		Success: true,
		Data:    product,
	})
}

// DeleteProduct removes a product
// DELETE /api/v1/products/:id
func (h *ProductsHandler) DeleteProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Product ID must be a valid UUID", "id")
		return
	}

	if err := h.repo.DeleteProduct(c.Request.Context(), productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Product not found", "")
			return
		}
		h.logger.WithError(err).Error("Failed to delete product")
		h.errorJSON(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete product", "")
		return
	}

	message := "Product deleted"
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: &message,
	})
}

func (h *ProductsHandler) errorJSON(c *gin.Context, status int, code, message, field string) {
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
			Field:   field,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: c.GetString("request_id"),
	})
}
