package controller

import (
	"encoding/csv"
	"log"
	"strconv"
	"strings"
	"time"

	"leadsync/crm"
	"leadsync/models"
	"leadsync/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LeadController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Outbound *crm.OutboundSync
}

func NewLeadController(db *gorm.DB, logger *log.Logger, outbound *crm.OutboundSync) *LeadController {
	return &LeadController{
		DB:       db,
		Logger:   logger,
		Outbound: outbound,
	}
}

// CreateLead creates a new lead with validation. When the company's
// integration has auto-sync enabled the lead is pushed to the CRM right
// away; a push failure never fails the create.
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var input struct {
		Email        string            `json:"email" validate:"required,email"`
		FirstName    string            `json:"first_name" validate:"omitempty,max=100"`
		LastName     string            `json:"last_name" validate:"omitempty,max=100"`
		Phone        string            `json:"phone" validate:"omitempty,max=50"`
		Company      string            `json:"company" validate:"omitempty,max=200"`
		Position     string            `json:"position" validate:"omitempty,max=200"`
		Website      string            `json:"website" validate:"omitempty,max=500"`
		Source       string            `json:"source" validate:"omitempty,max=100"`
		Description  string            `json:"description" validate:"omitempty,max=2000"`
		CustomFields map[string]string `json:"custom_fields"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	// Check if lead already exists
	var existingLead models.Lead
	if err := lc.DB.Where("email = ? AND company_id = ?", strings.ToLower(input.Email), company.ID).First(&existingLead).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this email already exists", nil)
	}

	lead := models.Lead{
		CompanyID:     company.ID,
		Email:         strings.ToLower(input.Email),
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Company:       input.Company,
		Position:      input.Position,
		Phone:         input.Phone,
		Website:       input.Website,
		Source:        input.Source,
		Description:   input.Description,
		LeadOrigin:    models.LeadOriginPlatform,
		CRMSyncStatus: models.CRMSyncStatusNotSynced,
		CustomFields:  convertCustomFields(input.CustomFields),
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	if err := lc.Outbound.AutoSyncNewLead(c.Context(), &lead, company.ID); err != nil {
		lc.Logger.Printf("Auto-sync of lead %d failed: %v", lead.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// Helper function to convert custom fields
func convertCustomFields(fields map[string]string) []models.LeadCustomField {
	var result []models.LeadCustomField
	for name, value := range fields {
		result = append(result, models.LeadCustomField{
			Name:  name,
			Value: value,
		})
	}
	return result
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	// Filters
	email := c.Query("email")
	companyName := c.Query("company")
	syncStatus := c.Query("sync_status")
	origin := c.Query("origin")

	query := lc.DB.Where("company_id = ?", company.ID)

	if email != "" {
		query = query.Where("email LIKE ?", "%"+email+"%")
	}
	if companyName != "" {
		query = query.Where("company LIKE ?", "%"+companyName+"%")
	}
	if syncStatus != "" {
		query = query.Where("crm_sync_status = ?", syncStatus)
	}
	if origin != "" {
		query = query.Where("lead_origin = ?", origin)
	}

	var leads []models.Lead
	if err := query.Preload("CustomFields").Offset(offset).Limit(limit).Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	var total int64
	query.Model(&models.Lead{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetLead returns a single lead by ID
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)
	leadID := c.Params("id")

	var lead models.Lead
	if err := lc.DB.Preload("CustomFields").Where("id = ? AND company_id = ?", leadID, company.ID).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead updates lead details. A lead already linked to a CRM record is
// marked pending so the next sync pushes the change.
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)
	leadID := c.Params("id")

	var input struct {
		Email        string            `json:"email" validate:"omitempty,email"`
		FirstName    string            `json:"first_name" validate:"omitempty,max=100"`
		LastName     string            `json:"last_name" validate:"omitempty,max=100"`
		Phone        string            `json:"phone" validate:"omitempty,max=50"`
		Company      string            `json:"company" validate:"omitempty,max=200"`
		Position     string            `json:"position" validate:"omitempty,max=200"`
		Website      string            `json:"website" validate:"omitempty,max=500"`
		Description  string            `json:"description" validate:"omitempty,max=2000"`
		CustomFields map[string]string `json:"custom_fields"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND company_id = ?", leadID, company.ID).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	// Check if email is being updated to an existing one
	if input.Email != "" && strings.ToLower(input.Email) != lead.Email {
		var existingLead models.Lead
		if err := lc.DB.Where("email = ? AND company_id = ?", strings.ToLower(input.Email), company.ID).First(&existingLead).Error; err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this email already exists", nil)
		}
		lead.Email = strings.ToLower(input.Email)
	}

	// Update fields
	if input.FirstName != "" {
		lead.FirstName = input.FirstName
	}
	if input.LastName != "" {
		lead.LastName = input.LastName
	}
	if input.Phone != "" {
		lead.Phone = input.Phone
	}
	if input.Company != "" {
		lead.Company = input.Company
	}
	if input.Position != "" {
		lead.Position = input.Position
	}
	if input.Website != "" {
		lead.Website = input.Website
	}
	if input.Description != "" {
		lead.Description = input.Description
	}
	if input.CustomFields != nil {
		if err := lc.DB.Where("lead_id = ?", lead.ID).Delete(&models.LeadCustomField{}).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update custom fields", err)
		}
		lead.CustomFields = convertCustomFields(input.CustomFields)
	}

	if lead.CRMID != nil && lead.CRMSyncStatus == models.CRMSyncStatusSynced {
		lead.CRMSyncStatus = models.CRMSyncStatusPending
	}

	if err := lc.DB.Save(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// DeleteLead deletes a lead on the platform side only. The CRM copy, if one
// exists, is left untouched.
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)
	leadID := c.Params("id")

	tx := lc.DB.Begin()

	if err := tx.Where("lead_id = ?", leadID).Delete(&models.LeadCustomField{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead custom fields", err)
	}

	result := tx.Where("id = ? AND company_id = ?", leadID, company.ID).Delete(&models.Lead{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", result.Error)
	}

	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Lead deleted successfully",
	}))
}

// ImportLeads imports leads from CSV file
func (lc *LeadController) ImportLeads(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload error", err)
	}

	// Check file size (max 5MB)
	if file.Size > 5<<20 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large (max 5MB)", nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
	}
	defer src.Close()

	// Parse CSV
	reader := csv.NewReader(src)
	records, err := reader.ReadAll()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
	}

	if len(records) < 2 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file must have at least a header and one row", nil)
	}

	header := records[0]
	rows := records[1:]

	// Process leads in batches
	batchSize := 100
	var leads []models.Lead
	imported, skipped := 0, 0

	for _, row := range rows {
		if len(row) != len(header) {
			skipped++
			continue // Skip malformed rows
		}

		leadData := make(map[string]string)
		for i, col := range header {
			leadData[col] = row[i]
		}

		email, ok := leadData["email"]
		if !ok || email == "" {
			skipped++
			continue // Skip rows without email
		}

		// Check if lead already exists
		var existingLead models.Lead
		err := lc.DB.Where("email = ? AND company_id = ?", strings.ToLower(email), company.ID).First(&existingLead).Error
		if err == nil {
			skipped++
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check existing leads", err)
		}

		leads = append(leads, models.Lead{
			CompanyID:     company.ID,
			Email:         strings.ToLower(email),
			FirstName:     leadData["first_name"],
			LastName:      leadData["last_name"],
			Phone:         leadData["phone"],
			Company:       leadData["company"],
			Position:      leadData["position"],
			Source:        "csv_import",
			LeadOrigin:    models.LeadOriginPlatform,
			CRMSyncStatus: models.CRMSyncStatusNotSynced,
		})
		imported++

		// Process batch when size is reached
		if len(leads) >= batchSize {
			if err := lc.DB.Create(&leads).Error; err != nil {
				lc.Logger.Printf("Failed to import batch of leads: %v", err)
			}
			leads = nil
		}
	}

	// Process remaining leads
	if len(leads) > 0 {
		if err := lc.DB.Create(&leads).Error; err != nil {
			lc.Logger.Printf("Failed to import final batch of leads: %v", err)
		}
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":    "Leads imported successfully",
		"total_rows": len(rows),
		"imported":   imported,
		"skipped":    skipped,
	}))
}

// ExportLeads exports leads to CSV
func (lc *LeadController) ExportLeads(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var leads []models.Lead
	if err := lc.DB.Where("company_id = ?", company.ID).Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", "attachment; filename=leads_export_"+time.Now().Format("20060102")+".csv")

	writer := csv.NewWriter(c)
	defer writer.Flush()

	// Write header
	header := []string{"email", "first_name", "last_name", "phone", "company", "position", "crm_sync_status", "lead_origin"}
	if err := writer.Write(header); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
	}

	// Write data
	for _, lead := range leads {
		record := []string{
			lead.Email,
			lead.FirstName,
			lead.LastName,
			lead.Phone,
			lead.Company,
			lead.Position,
			lead.CRMSyncStatus,
			lead.LeadOrigin,
		}
		if err := writer.Write(record); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
		}
	}

	return nil
}
