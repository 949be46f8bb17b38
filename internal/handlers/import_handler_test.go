package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-import-service/internal/importer"
	"product-import-service/internal/models"
)

type mockImportService struct {
	startedPath   string
	startedFormat models.ImportFormat
	startErr      error
	taskID        string

	cancelCalled string
	cancelOK     bool

	snapshot  *models.TaskSnapshot
	statusErr error
}

func (m *mockImportService) Start(path string, format models.ImportFormat) (string, error) {
	m.startedPath = path
	m.startedFormat = format
	if m.startErr != nil {
		return "", m.startErr
	}
	return m.taskID, nil
}

func (m *mockImportService) Cancel(taskID string) bool {
	m.cancelCalled = taskID
	return m.cancelOK
}

func (m *mockImportService) Status(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.snapshot, nil
}

func newImportRouter(t *testing.T, svc ImportService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewImportHandler(svc, t.TempDir(), logger)

	router := gin.New()
	products := router.Group("/api/v1/products")
	products.POST("/import", h.ImportProducts)
	products.GET("/import/template", h.GetImportTemplate)
	products.GET("/import/:taskId/status", h.GetImportStatus)
	products.DELETE("/import/:taskId", h.CancelImport)
	return router
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestImportProductsAccepted(t *testing.T) {
	svc := &mockImportService{taskID: "task-123"}
	router := newImportRouter(t, svc)

	body, contentType := multipartUpload(t, "products.csv", "sku,name\nA-1,Widget\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "task-123", resp["taskId"])

	assert.Equal(t, models.ImportFormatCSV, svc.startedFormat)

	// The upload was spooled to disk for the background task.
	data, err := os.ReadFile(svc.startedPath)
	require.NoError(t, err)
	assert.Equal(t, "sku,name\nA-1,Widget\n", string(data))
}

func TestImportProductsXLSXExtension(t *testing.T) {
	svc := &mockImportService{taskID: "task-x"}
	router := newImportRouter(t, svc)

	body, contentType := multipartUpload(t, "products.XLSX", "not really xlsx")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.ImportFormatXLSX, svc.startedFormat)
}

func TestImportProductsRejectsUnknownExtension(t *testing.T) {
	svc := &mockImportService{taskID: "never"}
	router := newImportRouter(t, svc)

	body, contentType := multipartUpload(t, "products.txt", "sku\nA-1\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_FORMAT", resp.Error.Code)
	assert.Empty(t, svc.startedPath)
}

func TestImportProductsRequiresFile(t *testing.T) {
	router := newImportRouter(t, &mockImportService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE_REQUIRED", resp.Error.Code)
}

func TestGetImportStatus(t *testing.T) {
	total := int64(100)
	percent := 42
	svc := &mockImportService{
		snapshot: &models.TaskSnapshot{
			TaskID:    "task-123",
			Status:    models.TaskStatusProcessing,
			Processed: 42,
			Total:     &total,
			Invalid:   3,
			Percent:   &percent,
			UpdatedAt: time.Now().UTC(),
		},
	}
	router := newImportRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/task-123/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.TaskSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "task-123", snap.TaskID)
	assert.Equal(t, models.TaskStatusProcessing, snap.Status)
	assert.EqualValues(t, 42, snap.Processed)
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 42, *snap.Percent)
	assert.Nil(t, snap.Error)
}

func TestGetImportStatusNotFound(t *testing.T) {
	svc := &mockImportService{statusErr: importer.ErrTaskNotFound}
	router := newImportRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/nope/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TASK_NOT_FOUND", resp.Error.Code)
}

func TestCancelImport(t *testing.T) {
	svc := &mockImportService{cancelOK: true}
	router := newImportRouter(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/products/import/task-123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "task-123", svc.cancelCalled)
}

func TestCancelImportNotFound(t *testing.T) {
	svc := &mockImportService{cancelOK: false}
	router := newImportRouter(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/products/import/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetImportTemplateJSON(t *testing.T) {
	router := newImportRouter(t, &mockImportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/template", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success  bool                  `json:"success"`
		Template models.ImportTemplate `json:"template"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "products", resp.Template.Entity)
	require.NotEmpty(t, resp.Template.Columns)
	assert.Equal(t, "sku", resp.Template.Columns[0].Name)
	assert.True(t, resp.Template.Columns[0].Required)
}

func TestGetImportTemplateCSV(t *testing.T) {
	router := newImportRouter(t, &mockImportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/template?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "sku,name,description,active\n", rec.Body.String())
}
