package controller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"zapflow/models"
	"zapflow/utils"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookController ingests gateway events and normalizes them into
// canonical contact/message state. Every handler path acknowledges with
// 200 even when internal processing fails: a non-2xx response would make
// the gateway disable or retry-storm the webhook subscription.
type WebhookController struct {
	DB        *gorm.DB
	Instances *utils.InstanceCache
	QR        *utils.QRCache
	Logger    *logrus.Logger
}

func NewWebhookController(db *gorm.DB, instances *utils.InstanceCache, qr *utils.QRCache, logger *logrus.Logger) *WebhookController {
	return &WebhookController{
		DB:        db,
		Instances: instances,
		QR:        qr,
		Logger:    logger,
	}
}

func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		wc.Logger.WithError(err).Warn("unparseable webhook envelope")
		return wc.ack(c)
	}

	instanceName := envelope.InstanceName()
	if instanceName == "" {
		wc.Logger.WithField("event", envelope.Event).Warn("webhook without instance name")
		return wc.ack(c)
	}

	log := wc.Logger.WithFields(logrus.Fields{
		"event":    envelope.Event,
		"instance": instanceName,
	})

	ctx := c.UserContext()
	switch envelope.EventKind() {
	case EventQRUpdated:
		wc.handleQRUpdate(ctx, instanceName, envelope.Data, log)
	case EventConnectionUpdate:
		wc.handleConnectionUpdate(ctx, instanceName, envelope.Data, log)
	case EventMessagesUpsert:
		wc.handleMessagesUpsert(ctx, instanceName, envelope.Data, log)
	case EventMessagesUpdate:
		wc.handleMessagesUpdate(instanceName, envelope.Data, log)
	default:
		log.Debug("ignoring unknown webhook event")
	}

	return wc.ack(c)
}

// GetQRCode serves the cached pairing payload for an instance, 404 when
// none exists or it has expired.
func (wc *WebhookController) GetQRCode(c *fiber.Ctx) error {
	instanceName := c.Params("instance")

	payload, ok := wc.QR.Get(c.UserContext(), instanceName)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No QR code available for this instance",
		})
	}
	return c.JSON(payload)
}

func (wc *WebhookController) handleQRUpdate(ctx context.Context, instanceName string, data json.RawMessage, log *logrus.Entry) {
	upd, ok := ParseQRUpdate(data)
	if !ok {
		log.Warn("qr update without payload")
		return
	}
	wc.QR.Set(ctx, instanceName, utils.QRPayload{
		Code:        upd.Code,
		Base64:      upd.Base64,
		PairingCode: upd.PairingCode,
		UpdatedAt:   time.Now(),
	})
	log.Info("qr payload cached")
}

func (wc *WebhookController) handleConnectionUpdate(ctx context.Context, instanceName string, data json.RawMessage, log *logrus.Entry) {
	state := ParseConnectionState(data)
	if state == "" {
		return
	}

	updates := map[string]interface{}{"status": models.InstanceStatusConnecting}
	if IsConnectedState(state) {
		// Paired: the cached QR payload is no longer needed
		wc.QR.Evict(ctx, instanceName)
		updates["status"] = models.InstanceStatusConnected
		updates["last_connected_at"] = time.Now()
	} else if state == "close" || state == "closed" {
		updates["status"] = models.InstanceStatusDisconnected
	}

	if err := wc.DB.Model(&models.WhatsAppInstance{}).
		Where("instance_name = ?", instanceName).
		Updates(updates).Error; err != nil {
		wc.capture(log, err, "failed to update instance status")
	}
	log.WithField("state", state).Info("connection state updated")
}

func (wc *WebhookController) handleMessagesUpsert(ctx context.Context, instanceName string, data json.RawMessage, log *logrus.Entry) {
	userID, err := wc.Instances.Resolve(ctx, instanceName)
	if err != nil {
		if errors.Is(err, utils.ErrUnknownInstance) {
			log.Warn("message upsert for unregistered instance, skipping")
		} else {
			wc.capture(log, err, "instance ownership resolution failed")
		}
		return
	}

	for _, msg := range ParseMessagesUpsert(data) {
		if err := wc.persistMessage(userID, msg); err != nil {
			wc.capture(log.WithField("external_id", msg.ExternalID), err, "failed to persist message")
		}
	}
}

// persistMessage upserts the contact and inserts the message row. Replays
// of the same external id and direction are no-ops.
func (wc *WebhookController) persistMessage(userID uint, msg NormalizedMessage) error {
	direction := models.DirectionInbound
	if msg.FromMe {
		direction = models.DirectionOutbound
	}

	if msg.ExternalID != "" {
		var existing int64
		if err := wc.DB.Model(&models.Message{}).
			Where("external_id = ? AND direction = ?", msg.ExternalID, direction).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
	}

	now := time.Now()
	contact := models.Contact{
		UserID: userID,
		Phone:  msg.Phone,
	}
	if err := wc.DB.Where("user_id = ? AND phone = ?", userID, msg.Phone).
		Attrs(contactSeed(direction, msg.PushName)).
		FirstOrCreate(&contact).Error; err != nil {
		return err
	}
	wc.DB.Model(&contact).Update("last_activity_at", now)

	eventTime := msg.Timestamp
	if eventTime.IsZero() {
		eventTime = now
	}

	row := models.Message{
		UserID:          userID,
		ContactID:       contact.ID,
		Direction:       direction,
		Status:          models.MessageStatusSent,
		MessageKind:     msg.Kind,
		Content:         msg.Preview,
		MediaURL:        msg.MediaURL,
		MediaMimeType:   msg.MediaMimeType,
		MediaSizeBytes:  msg.MediaSizeBytes,
		DurationSeconds: msg.DurationSeconds,
	}
	if msg.ExternalID != "" {
		row.ExternalID = utils.Pointer(msg.ExternalID)
	}
	if direction == models.DirectionInbound {
		row.Status = models.MessageStatusDelivered
		row.DeliveredAt = &eventTime
	} else {
		row.SentAt = &eventTime
	}

	return wc.DB.Create(&row).Error
}

// handleMessagesUpdate patches message rows by external id. A missing row
// is a silent no-op: the status event may race ahead of message
// persistence. Patches are idempotent and never downgrade a status.
func (wc *WebhookController) handleMessagesUpdate(instanceName string, data json.RawMessage, log *logrus.Entry) {
	for _, upd := range ParseMessagesUpdate(data) {
		var msg models.Message
		err := wc.DB.Where("external_id = ?", upd.ExternalID).First(&msg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			wc.capture(log, err, "status update lookup failed")
			continue
		}

		if !shouldApplyStatus(upd.Status, msg.Status) {
			continue
		}

		eventTime := upd.Timestamp
		if eventTime.IsZero() {
			eventTime = time.Now()
		}

		if err := wc.DB.Model(&msg).Updates(statusPatch(&msg, upd.Status, eventTime)).Error; err != nil {
			wc.capture(log.WithField("external_id", upd.ExternalID), err, "status patch failed")
		}
	}
}

// contactSeed returns the attributes used when a webhook message creates
// a contact that does not exist yet. The push name only names the
// counterpart on inbound messages; on outbound ones it is the account's
// own display name and must not be stored.
func contactSeed(direction, pushName string) models.Contact {
	seed := models.Contact{OptedIn: true}
	if direction == models.DirectionInbound {
		seed.Name = pushName
	}
	return seed
}

// shouldApplyStatus reports whether an incoming receipt may patch the
// message's current status. Equal statuses re-apply (replays stay
// harmless since statusPatch keeps existing timestamps), lower ones are
// dropped.
func shouldApplyStatus(incoming, current string) bool {
	return statusRank(incoming) >= statusRank(current)
}

// statusPatch builds the column updates for a status receipt. Timestamp
// columns are only filled when still empty, so a replayed receipt never
// rewrites when the message was first delivered or read.
func statusPatch(msg *models.Message, status string, eventTime time.Time) map[string]interface{} {
	updates := map[string]interface{}{"status": status}
	switch status {
	case models.MessageStatusDelivered:
		if msg.DeliveredAt == nil {
			updates["delivered_at"] = eventTime
		}
	case models.MessageStatusRead:
		if msg.ReadAt == nil {
			updates["read_at"] = eventTime
		}
	}
	return updates
}

// statusRank orders message statuses so late or replayed receipts never
// regress state (a read message stays read when a delivered ack arrives).
func statusRank(status string) int {
	switch status {
	case models.MessageStatusSent:
		return 1
	case models.MessageStatusDelivered:
		return 2
	case models.MessageStatusRead:
		return 3
	case models.MessageStatusFailed:
		return 4
	default:
		return 0
	}
}

func (wc *WebhookController) ack(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (wc *WebhookController) capture(log *logrus.Entry, err error, msg string) {
	log.WithError(err).Error(msg)
	sentry.CaptureException(err)
}
