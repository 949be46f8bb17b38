package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"product-import-service/internal/importer"
	"product-import-service/internal/models"
)

// ImportService is the slice of the import pipeline the HTTP layer needs.
type ImportService interface {
	Start(path string, format models.ImportFormat) (string, error)
	Cancel(taskID string) bool
	Status(ctx context.Context, taskID string) (*models.TaskSnapshot, error)
}

type ImportHandler struct {
	imports   ImportService
	uploadDir string
	logger    *logrus.Logger
}

func NewImportHandler(imports ImportService, uploadDir string, logger *logrus.Logger) *ImportHandler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &ImportHandler{
		imports:   imports,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// ImportProducts accepts a CSV or XLSX upload and starts an asynchronous
// import task. The response carries only the task ID; progress is
// retrieved via GetImportStatus.
// POST /api/v1/products/import
func (h *ImportHandler) ImportProducts(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_REQUIRED",
				Message: "Please upload a CSV or Excel file",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	defer file.Close()

	var format models.ImportFormat
	switch ext := strings.ToLower(filepath.Ext(header.Filename)); ext {
	case ".csv":
		format = models.ImportFormatCSV
	case ".xlsx":
		format = models.ImportFormatXLSX
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_FORMAT",
				Message: "Only CSV and XLSX files are supported",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	path, err := h.spoolUpload(file, string(format))
	if err != nil {
		h.logger.WithError(err).Error("Failed to spool uploaded file")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "UPLOAD_FAILED",
				Message: "Failed to store the uploaded file",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	taskID, err := h.imports.Start(path, format)
	if err != nil {
		os.Remove(path)
		h.logger.WithError(err).Error("Failed to start import task")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "IMPORT_START_FAILED",
				Message: "Failed to start the import task",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"filename": header.Filename,
		"format":   format,
	}).Info("Import task accepted")

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"taskId":  taskID,
	})
}

// spoolUpload copies the multipart stream to a temp file so the
// background task can read it after the request completes.
func (h *ImportHandler) spoolUpload(src io.Reader, ext string) (string, error) {
	tmp, err := os.CreateTemp(h.uploadDir, "import-*."+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// GetImportStatus returns the current snapshot of an import task.
// GET /api/v1/products/import/:taskId/status
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	taskID := c.Param("taskId")

	snap, err := h.imports.Status(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, importer.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "TASK_NOT_FOUND",
					Message: "No import task with that ID",
				},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to load task status")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "STATUS_UNAVAILABLE",
				Message: "Failed to load task status",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// CancelImport requests cancellation of a running import task. The task
// finishes its in-flight batch before stopping, so the response is 202
// rather than a terminal state.
// DELETE /api/v1/products/import/:taskId
func (h *ImportHandler) CancelImport(c *gin.Context) {
	taskID := c.Param("taskId")

	if !h.imports.Cancel(taskID) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "TASK_NOT_FOUND",
				Message: "No running import task with that ID",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"taskId":  taskID,
		"message": "Cancellation requested",
	})
}

// GetImportTemplate returns the import template definition or file
// GET /api/v1/products/import/template
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	format := c.DefaultQuery("format", "json")

	template := models.ProductImportTemplate()

	switch format {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}

// generateCSVTemplate generates and downloads a CSV template (headers only)
func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	writer.Write(headers)
}

// generateXLSXTemplate generates and downloads an Excel template
func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Products"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Name
		if col.Required {
			headerText = col.Name + " *"
		}
		f.SetCellValue(sheetName, cell, headerText)

		if col.Required {
			f.SetCellStyle(sheetName, cell, cell, requiredStyle)
		} else {
			f.SetCellStyle(sheetName, cell, cell, headerStyle)
		}

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	// Add Instructions sheet
	f.NewSheet("Instructions")
	f.SetCellValue("Instructions", "A1", "Product Import Instructions")

	f.SetCellValue("Instructions", "A3", "Rows are matched to existing products by SKU (case-insensitive).")
	f.SetCellValue("Instructions", "A4", "Existing products are updated in place; new SKUs are created.")
	f.SetCellValue("Instructions", "A5", "Rows without a SKU are rejected and reported in the task status.")

	f.SetCellValue("Instructions", "A7", "Column Definitions:")
	f.SetCellValue("Instructions", "A8", "Column")
	f.SetCellValue("Instructions", "B8", "Description")
	f.SetCellValue("Instructions", "C8", "Required")
	f.SetCellValue("Instructions", "D8", "Type")
	f.SetCellValue("Instructions", "E8", "Example")

	for i, col := range template.Columns {
		row := i + 9
		f.SetCellValue("Instructions", fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue("Instructions", fmt.Sprintf("B%d", row), col.Description)
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue("Instructions", fmt.Sprintf("C%d", row), required)
		f.SetCellValue("Instructions", fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue("Instructions", fmt.Sprintf("E%d", row), col.Example)
	}

	f.SetColWidth("Instructions", "A", "A", 25)
	f.SetColWidth("Instructions", "B", "B", 60)
	f.SetColWidth("Instructions", "C", "C", 15)
	f.SetColWidth("Instructions", "D", "D", 15)
	f.SetColWidth("Instructions", "E", "E", 40)

	sheetIdx, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(sheetIdx)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.xlsx")

	f.Write(c.Writer)
}
