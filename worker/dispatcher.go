package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zapflow/models"
	"zapflow/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRateLimited means the account's send window is exhausted. The job is
// released back to pending and retried on a later tick without consuming
// a retry slot.
var ErrRateLimited = errors.New("send rate limit reached")

// DataError is a missing campaign/recipient/step at dispatch time. The
// job fails without touching the gateway.
type DataError struct {
	Detail string
}

func (e *DataError) Error() string {
	return "dispatch data error: " + e.Detail
}

// Gateway is the subset of send operations the dispatcher needs.
type Gateway interface {
	SendText(ctx context.Context, instance, phone, text string) (string, error)
	SendMedia(ctx context.Context, instance, phone, mediaType, mediaURL, caption string) (string, error)
	SendAudio(ctx context.Context, instance, phone, audioURL string) (string, error)
}

// Dispatcher executes one deliver_step job: renders the step content for
// the recipient and pushes it through the gateway, recording the outcome
// in the delivery log.
type Dispatcher struct {
	DB      *gorm.DB
	Gateway Gateway
	Limiter *SendLimiter
	Logger  *log.Logger
}

func NewDispatcher(db *gorm.DB, gateway Gateway, limiter *SendLimiter, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		DB:      db,
		Gateway: gateway,
		Limiter: limiter,
		Logger:  logger,
	}
}

// Deliver sends the step named by the job payload to its recipient.
// Returns ErrRateLimited when the send window is exhausted, a *DataError
// when referenced rows are missing, or the gateway error on send failure.
func (d *Dispatcher) Deliver(ctx context.Context, job *models.ScheduledJob) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return &DataError{Detail: fmt.Sprintf("undecodable payload: %v", err)}
	}

	var campaign models.Campaign
	if err := d.DB.First(&campaign, payload.CampaignID).Error; err != nil {
		return d.loadError("campaign", payload.CampaignID, err)
	}

	var recipient models.CampaignRecipient
	if err := d.DB.First(&recipient, payload.RecipientID).Error; err != nil {
		return d.loadError("recipient", payload.RecipientID, err)
	}

	var step models.SequenceStep
	if err := d.DB.Where("campaign_id = ? AND step_number = ?", campaign.ID, payload.StepNumber).
		First(&step).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &DataError{Detail: fmt.Sprintf("step %d not found for campaign %d", payload.StepNumber, campaign.ID)}
		}
		return err
	}

	var contact models.Contact
	if err := d.DB.Preload("CustomFields").First(&contact, recipient.ContactID).Error; err != nil {
		return d.loadError("contact", recipient.ContactID, err)
	}

	var owner models.User
	if err := d.DB.First(&owner, campaign.UserID).Error; err != nil {
		return d.loadError("user", campaign.UserID, err)
	}

	if !d.Limiter.Allow(campaign.UserID, owner.MaxSendsPerMinute, owner.DailySendCap) {
		return ErrRateLimited
	}

	content := utils.RenderTemplate(step.Content, utils.ContactVars(&contact))
	attemptID := uuid.New().String()

	externalID, sendErr := d.send(ctx, &campaign, &step, contact.Phone, content)
	if sendErr != nil {
		d.recordFailure(&campaign, &recipient, &step, content, attemptID, sendErr)
		return sendErr
	}

	d.recordSuccess(&campaign, &recipient, &step, contact.ID, content, attemptID, externalID)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, campaign *models.Campaign, step *models.SequenceStep, phone, content string) (string, error) {
	// Shutdown cancels the scheduler context, but a claimed send must
	// finish or hit the gateway client timeout, not abort mid-flight and
	// burn a retry slot.
	ctx = context.WithoutCancel(ctx)
	switch step.MessageKind {
	case models.MessageKindText, "":
		return d.Gateway.SendText(ctx, campaign.InstanceName, phone, content)
	case models.MessageKindImage, models.MessageKindVideo, models.MessageKindDocument:
		return d.Gateway.SendMedia(ctx, campaign.InstanceName, phone, step.MessageKind, step.MediaURL, content)
	case models.MessageKindAudio:
		return d.Gateway.SendAudio(ctx, campaign.InstanceName, phone, step.MediaURL)
	default:
		return "", &DataError{Detail: fmt.Sprintf("unsupported message kind %q", step.MessageKind)}
	}
}

func (d *Dispatcher) recordSuccess(campaign *models.Campaign, recipient *models.CampaignRecipient, step *models.SequenceStep, contactID uint, content, attemptID, externalID string) {
	now := time.Now()

	entry := models.DeliveryLog{
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		ContactID:   contactID,
		StepNumber:  step.StepNumber,
		Content:     content,
		Outcome:     models.DeliveryOutcomeSent,
		ExternalID:  externalID,
		AttemptID:   attemptID,
		SentAt:      &now,
	}
	if err := d.DB.Create(&entry).Error; err != nil {
		d.Logger.Printf("Failed to write delivery log for recipient %d: %v", recipient.ID, err)
	}

	// Outbound message row so status-update webhooks have something to patch
	msg := models.Message{
		UserID:      campaign.UserID,
		ContactID:   contactID,
		Direction:   models.DirectionOutbound,
		Status:      models.MessageStatusSent,
		MessageKind: step.MessageKind,
		Content:     content,
		MediaURL:    step.MediaURL,
		ExternalID:  &externalID,
		SentAt:      &now,
	}
	if externalID == "" {
		msg.ExternalID = nil
	}
	if err := d.DB.Create(&msg).Error; err != nil {
		d.Logger.Printf("Failed to write outbound message row: %v", err)
	}

	if err := d.DB.Model(recipient).Updates(map[string]interface{}{
		"current_step":  step.StepNumber,
		"status":        models.RecipientStatusSent,
		"messages_sent": gorm.Expr("messages_sent + ?", 1),
		"last_sent_at":  now,
	}).Error; err != nil {
		d.Logger.Printf("Failed to update recipient %d: %v", recipient.ID, err)
	}

	d.DB.Model(step).Update("sent_count", gorm.Expr("sent_count + ?", 1))
	d.DB.Model(campaign).Update("sent_count", gorm.Expr("sent_count + ?", 1))
}

func (d *Dispatcher) recordFailure(campaign *models.Campaign, recipient *models.CampaignRecipient, step *models.SequenceStep, content, attemptID string, sendErr error) {
	entry := models.DeliveryLog{
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		ContactID:   recipient.ContactID,
		StepNumber:  step.StepNumber,
		Content:     content,
		Outcome:     models.DeliveryOutcomeFailed,
		ErrorText:   sendErr.Error(),
		AttemptID:   attemptID,
	}
	if err := d.DB.Create(&entry).Error; err != nil {
		d.Logger.Printf("Failed to write failed delivery log for recipient %d: %v", recipient.ID, err)
	}

	if err := d.DB.Model(recipient).Updates(map[string]interface{}{
		"messages_failed": gorm.Expr("messages_failed + ?", 1),
	}).Error; err != nil {
		d.Logger.Printf("Failed to update recipient %d failure count: %v", recipient.ID, err)
	}

	d.DB.Model(campaign).Update("failed_count", gorm.Expr("failed_count + ?", 1))
}

func (d *Dispatcher) loadError(what string, id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DataError{Detail: fmt.Sprintf("%s %d not found", what, id)}
	}
	return err
}
