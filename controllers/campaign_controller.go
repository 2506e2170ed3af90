package controller

import (
	"errors"
	"log"
	"time"

	"zapflow/config"
	"zapflow/models"
	"zapflow/utils"
	"zapflow/worker"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB       *gorm.DB
	Store    *worker.JobStore
	Logger   *log.Logger
	validate *validator.Validate
}

func NewCampaignController(db *gorm.DB, store *worker.JobStore, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:       db,
		Store:    store,
		Logger:   logger,
		validate: validator.New(),
	}
}

type sequenceStepInput struct {
	StepNumber   int    `json:"step_number" validate:"required,min=1"`
	MessageKind  string `json:"message_kind" validate:"omitempty,oneof=text image video document audio"`
	Content      string `json:"content"`
	MediaURL     string `json:"media_url"`
	DelayMinutes int    `json:"delay_minutes" validate:"min=0"`
}

type createCampaignInput struct {
	Name         string `json:"name" validate:"required,min=2,max=120"`
	Description  string `json:"description"`
	InstanceName string `json:"instance_name" validate:"required"`

	CadenceType    string `json:"cadence_type" validate:"omitempty,oneof=immediate daily every_2_days weekly biweekly monthly quarterly semiannual annual custom"`
	CadenceDays    int    `json:"cadence_days" validate:"min=0"`
	CadenceHours   int    `json:"cadence_hours" validate:"min=0"`
	CadenceMinutes int    `json:"cadence_minutes" validate:"min=0"`

	BusinessHoursStart string `json:"business_hours_start"`
	BusinessHoursEnd   string `json:"business_hours_end"`
	SendOnWeekends     bool   `json:"send_on_weekends"`

	ContactIDs []uint              `json:"contact_ids" validate:"required,min=1"`
	Steps      []sequenceStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateCampaign creates a draft campaign with its sequence steps and
// recipient rows. Nothing is scheduled until the campaign is started.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := cc.validate.Struct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// The target instance must belong to the caller
	var instance models.WhatsAppInstance
	if err := cc.DB.Where("user_id = ? AND instance_name = ?", user.ID, input.InstanceName).
		First(&instance).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Instance not found",
		})
	}

	campaign := models.Campaign{
		UserID:             user.ID,
		Name:               input.Name,
		Description:        input.Description,
		InstanceName:       input.InstanceName,
		CadenceType:        input.CadenceType,
		CadenceDays:        input.CadenceDays,
		CadenceHours:       input.CadenceHours,
		CadenceMinutes:     input.CadenceMinutes,
		BusinessHoursStart: input.BusinessHoursStart,
		BusinessHoursEnd:   input.BusinessHoursEnd,
		SendOnWeekends:     input.SendOnWeekends,
		Status:             models.CampaignStatusDraft,
		TotalRecipients:    len(input.ContactIDs),
	}
	if campaign.CadenceType == "" {
		campaign.CadenceType = models.CadenceDaily
	}
	if campaign.BusinessHoursStart == "" {
		campaign.BusinessHoursStart = config.AppConfig.Rate.BusinessHoursStart
	}
	if campaign.BusinessHoursEnd == "" {
		campaign.BusinessHoursEnd = config.AppConfig.Rate.BusinessHoursEnd
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}

		for _, step := range input.Steps {
			kind := step.MessageKind
			if kind == "" {
				kind = models.MessageKindText
			}
			row := models.SequenceStep{
				CampaignID:   campaign.ID,
				StepNumber:   step.StepNumber,
				MessageKind:  kind,
				Content:      step.Content,
				MediaURL:     step.MediaURL,
				DelayMinutes: step.DelayMinutes,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, contactID := range input.ContactIDs {
			var contact models.Contact
			if err := tx.Where("id = ? AND user_id = ?", contactID, user.ID).
				First(&contact).Error; err != nil {
				return err
			}
			recipient := models.CampaignRecipient{
				CampaignID: campaign.ID,
				ContactID:  contact.ID,
				Status:     models.RecipientStatusPending,
			}
			if err := tx.Create(&recipient).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cc.Logger.Printf("Failed to create campaign: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// StartCampaign activates a draft/scheduled campaign and enqueues the
// start job that seeds per-recipient step-1 jobs.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, ok := cc.ownedCampaign(c, user)
	if !ok {
		return nil
	}

	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign cannot be started from status " + campaign.Status,
		})
	}

	campaign.Status = models.CampaignStatusActive
	campaign.StartedAt = utils.Pointer(time.Now())
	if err := cc.DB.Save(campaign).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign status",
		})
	}

	if err := cc.Store.Enqueue(models.JobKindStartCampaign,
		models.JobPayload{CampaignID: campaign.ID}, time.Now(), 0); err != nil {
		cc.Logger.Printf("Failed to enqueue start job for campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to schedule campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign started successfully",
	})
}

// PauseCampaign stops future dispatch cooperatively: in-flight jobs
// complete normally, later claims are skipped.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, ok := cc.ownedCampaign(c, user)
	if !ok {
		return nil
	}

	if !campaign.IsActive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is not running",
		})
	}

	if err := cc.DB.Model(campaign).Update("status", models.CampaignStatusPaused).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign paused successfully",
	})
}

// ResumeCampaign reactivates a paused campaign and re-seeds jobs for
// recipients whose jobs were skipped while paused.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, ok := cc.ownedCampaign(c, user)
	if !ok {
		return nil
	}

	if campaign.Status != models.CampaignStatusPaused {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is not paused",
		})
	}

	if err := cc.DB.Model(campaign).Update("status", models.CampaignStatusActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resume campaign",
		})
	}
	campaign.Status = models.CampaignStatusActive

	reseeded, err := cc.reseedRecipients(campaign)
	if err != nil {
		cc.Logger.Printf("Failed to reseed campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reschedule recipients",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Campaign resumed successfully",
		"reseeded": reseeded,
	})
}

// CancelCampaign terminally stops a campaign.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, ok := cc.ownedCampaign(c, user)
	if !ok {
		return nil
	}

	if campaign.Status == models.CampaignStatusCompleted || campaign.Status == models.CampaignStatusCancelled {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is already finished",
		})
	}

	if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStatusCancelled,
		"completed_at": time.Now(),
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign cancelled successfully",
	})
}

// GetCampaign returns the campaign with its steps and recipient progress.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	if err := cc.DB.Preload("Steps").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var progress []statusCount
	if err := cc.DB.Model(&models.CampaignRecipient{}).
		Select("status, count(*) as count").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Scan(&progress).Error; err != nil {
		cc.Logger.Printf("Failed to load progress for campaign %d: %v", campaign.ID, err)
	}

	return c.JSON(fiber.Map{
		"campaign": campaign,
		"progress": progress,
	})
}

// ownedCampaign loads the campaign for the caller, writing the 404
// response itself when missing.
func (cc *CampaignController) ownedCampaign(c *fiber.Ctx, user *models.User) (*models.Campaign, bool) {
	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
		return nil, false
	}
	return &campaign, true
}

// reseedRecipients enqueues the next step for every non-terminal recipient
// without an in-flight job. Past-due schedules snap to the send window
// from now.
func (cc *CampaignController) reseedRecipients(campaign *models.Campaign) (int, error) {
	var recipients []models.CampaignRecipient
	if err := cc.DB.Where("campaign_id = ? AND status IN ?", campaign.ID,
		[]string{models.RecipientStatusPending, models.RecipientStatusSent}).
		Find(&recipients).Error; err != nil {
		return 0, err
	}

	reseeded := 0
	for _, recipient := range recipients {
		open, err := cc.Store.HasOpenJob(recipient.ID)
		if err != nil {
			return reseeded, err
		}
		if open {
			continue
		}

		var nextStep models.SequenceStep
		err = cc.DB.Where("campaign_id = ? AND step_number > ?", campaign.ID, recipient.CurrentStep).
			Order("step_number ASC").
			First(&nextStep).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return reseeded, err
		}

		at := utils.ClipToSendWindow(campaign, time.Now())
		if recipient.NextSendAt != nil && recipient.NextSendAt.After(time.Now()) {
			at = *recipient.NextSendAt
		}

		err = cc.Store.Enqueue(models.JobKindDeliverStep, models.JobPayload{
			CampaignID:  campaign.ID,
			RecipientID: recipient.ID,
			StepNumber:  nextStep.StepNumber,
		}, at, 0)
		if err != nil {
			return reseeded, err
		}

		cc.DB.Model(&recipient).Update("next_send_at", at)
		reseeded++
	}
	return reseeded, nil
}
