package controller

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Canonical webhook event kinds. Every known envelope shape is normalized
// into exactly one of these before any persistence logic runs; shapes we
// cannot classify become EventUnknown rather than an error.
const (
	EventQRUpdated        = "qr_updated"
	EventConnectionUpdate = "connection_update"
	EventMessagesUpsert   = "messages_upsert"
	EventMessagesUpdate   = "messages_update"
	EventUnknown          = "unknown"
)

// WebhookEnvelope is the raw inbound gateway envelope. Instance arrives
// either as a plain string or as an object with an instanceName field.
type WebhookEnvelope struct {
	Event    string          `json:"event"`
	Instance json.RawMessage `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// EventKind maps the gateway's event naming variants (dotted lower-case
// and SCREAMING_SNAKE) onto a canonical kind.
func (e *WebhookEnvelope) EventKind() string {
	name := strings.ToLower(strings.ReplaceAll(e.Event, "_", "."))
	switch name {
	case "qrcode.updated", "qr.updated":
		return EventQRUpdated
	case "connection.update":
		return EventConnectionUpdate
	case "messages.upsert", "messages.set":
		return EventMessagesUpsert
	case "messages.update", "message.ack":
		return EventMessagesUpdate
	default:
		return EventUnknown
	}
}

// InstanceName extracts the instance identifier from either shape.
func (e *WebhookEnvelope) InstanceName() string {
	var asString string
	if err := json.Unmarshal(e.Instance, &asString); err == nil {
		return asString
	}
	var asObject struct {
		InstanceName string `json:"instanceName"`
		Name         string `json:"name"`
	}
	if err := json.Unmarshal(e.Instance, &asObject); err == nil {
		if asObject.InstanceName != "" {
			return asObject.InstanceName
		}
		return asObject.Name
	}
	return ""
}

// NormalizedMessage is one canonical inbound-or-outbound message event.
type NormalizedMessage struct {
	ExternalID      string
	Phone           string
	PushName        string
	FromMe          bool
	Kind            string
	Preview         string
	MediaURL        string
	MediaMimeType   string
	MediaSizeBytes  int64
	DurationSeconds int
	Timestamp       time.Time
}

// StatusUpdate is a canonical delivery/read receipt for a prior message.
type StatusUpdate struct {
	ExternalID string
	Status     string // sent, delivered, read, failed
	Timestamp  time.Time
}

// rawMessage mirrors the gateway's message payload shape.
type rawMessage struct {
	Key struct {
		RemoteJID   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id"`
		Participant string `json:"participant"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	MessageTimestamp json.Number     `json:"messageTimestamp"`
	Message          *rawMessageBody `json:"message"`
}

type rawMessageBody struct {
	Conversation        string        `json:"conversation"`
	ExtendedTextMessage *rawExtended  `json:"extendedTextMessage"`
	ImageMessage        *rawMediaPart `json:"imageMessage"`
	VideoMessage        *rawMediaPart `json:"videoMessage"`
	AudioMessage        *rawMediaPart `json:"audioMessage"`
	DocumentMessage     *rawMediaPart `json:"documentMessage"`
	StickerMessage      *rawMediaPart `json:"stickerMessage"`
}

type rawExtended struct {
	Text string `json:"text"`
}

type rawMediaPart struct {
	URL        string      `json:"url"`
	Caption    string      `json:"caption"`
	FileName   string      `json:"fileName"`
	Mimetype   string      `json:"mimetype"`
	FileLength json.Number `json:"fileLength"`
	Seconds    int         `json:"seconds"`
}

// ParseMessagesUpsert normalizes a messages-upsert payload, which may be a
// single object, an array, or an object wrapping a "messages" array.
// Entries without a derivable phone number are skipped.
func ParseMessagesUpsert(data json.RawMessage) []NormalizedMessage {
	var out []NormalizedMessage
	for _, raw := range expandList(data, "messages") {
		var msg rawMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		phone := derivePhone(msg.Key.RemoteJID, msg.Key.Participant)
		if phone == "" {
			continue
		}

		normalized := NormalizedMessage{
			ExternalID: msg.Key.ID,
			Phone:      phone,
			PushName:   msg.PushName,
			FromMe:     msg.Key.FromMe,
			Timestamp:  parseEventTime(msg.MessageTimestamp),
		}
		classifyContent(msg.Message, &normalized)
		out = append(out, normalized)
	}
	return out
}

// rawStatusUpdate covers the status-update shape variants: the id under
// keyId or key.id, the status directly or under update.status.
type rawStatusUpdate struct {
	KeyID string `json:"keyId"`
	Key   struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
	Update struct {
		Status string `json:"status"`
	} `json:"update"`
	MessageTimestamp json.Number `json:"messageTimestamp"`
}

// ParseMessagesUpdate normalizes a delivery/read status payload.
func ParseMessagesUpdate(data json.RawMessage) []StatusUpdate {
	var out []StatusUpdate
	for _, raw := range expandList(data, "") {
		var upd rawStatusUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			continue
		}

		id := upd.KeyID
		if id == "" {
			id = upd.Key.ID
		}
		if id == "" {
			continue
		}

		statusName := upd.Status
		if statusName == "" {
			statusName = upd.Update.Status
		}
		status := mapAckStatus(statusName)
		if status == "" {
			continue
		}

		out = append(out, StatusUpdate{
			ExternalID: id,
			Status:     status,
			Timestamp:  parseEventTime(upd.MessageTimestamp),
		})
	}
	return out
}

// QRUpdate is the pairing payload carried by a qrcode-updated event.
type QRUpdate struct {
	Code        string
	Base64      string
	PairingCode string
}

// ParseQRUpdate extracts the QR payload, tolerating both the nested
// qrcode object and flat field variants.
func ParseQRUpdate(data json.RawMessage) (QRUpdate, bool) {
	var shape struct {
		QRCode *struct {
			Code        string `json:"code"`
			Base64      string `json:"base64"`
			PairingCode string `json:"pairingCode"`
		} `json:"qrcode"`
		Code        string `json:"code"`
		Base64      string `json:"base64"`
		PairingCode string `json:"pairingCode"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return QRUpdate{}, false
	}

	upd := QRUpdate{
		Code:        shape.Code,
		Base64:      shape.Base64,
		PairingCode: shape.PairingCode,
	}
	if shape.QRCode != nil {
		if shape.QRCode.Code != "" {
			upd.Code = shape.QRCode.Code
		}
		if shape.QRCode.Base64 != "" {
			upd.Base64 = shape.QRCode.Base64
		}
		if shape.QRCode.PairingCode != "" {
			upd.PairingCode = shape.QRCode.PairingCode
		}
	}
	if upd.Code == "" && upd.Base64 == "" && upd.PairingCode == "" {
		return QRUpdate{}, false
	}
	return upd, true
}

// ParseConnectionState extracts the reported connection state ("open",
// "connecting", "close", ...) from either the state or connection field.
func ParseConnectionState(data json.RawMessage) string {
	var shape struct {
		State      string `json:"state"`
		Connection string `json:"connection"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return ""
	}
	if shape.State != "" {
		return strings.ToLower(shape.State)
	}
	return strings.ToLower(shape.Connection)
}

// IsConnectedState reports whether a connection state means the instance
// is paired and online, i.e. its cached QR payload is stale.
func IsConnectedState(state string) bool {
	return state == "open" || state == "connected"
}

// expandList normalizes object-or-array payloads to a list of raw
// objects. When wrapperField is non-empty an object carrying an array
// under that field is unwrapped first.
func expandList(data json.RawMessage, wrapperField string) []json.RawMessage {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil
		}
		return list
	}

	if wrapperField != "" {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err == nil {
			if inner, ok := wrapper[wrapperField]; ok && strings.HasPrefix(strings.TrimSpace(string(inner)), "[") {
				var list []json.RawMessage
				if err := json.Unmarshal(inner, &list); err == nil {
					return list
				}
			}
		}
	}

	return []json.RawMessage{data}
}

// derivePhone extracts the counterpart phone number: the group participant
// for group chats, otherwise the remote party identifier. Empty when no
// number can be derived (e.g. broadcast lists).
func derivePhone(remoteJID, participant string) string {
	jid := remoteJID
	if strings.HasSuffix(remoteJID, "@g.us") {
		jid = participant
	}
	if jid == "" || strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@broadcast") {
		return ""
	}

	phone := jid
	if at := strings.Index(phone, "@"); at >= 0 {
		phone = phone[:at]
	}
	// Strip the device suffix from multi-device JIDs ("5511999:12")
	if colon := strings.Index(phone, ":"); colon >= 0 {
		phone = phone[:colon]
	}
	if !isDigits(phone) {
		return ""
	}
	return phone
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// classifyContent inspects the first present content-type key and fills
// the kind, preview and media metadata.
func classifyContent(body *rawMessageBody, out *NormalizedMessage) {
	if body == nil {
		out.Kind = "text"
		return
	}

	switch {
	case body.Conversation != "":
		out.Kind = "text"
		out.Preview = body.Conversation
	case body.ExtendedTextMessage != nil:
		out.Kind = "text"
		out.Preview = body.ExtendedTextMessage.Text
	case body.ImageMessage != nil:
		out.Kind = "image"
		out.Preview = captionOr(body.ImageMessage.Caption, "[Image]")
		fillMedia(body.ImageMessage, out)
	case body.VideoMessage != nil:
		out.Kind = "video"
		out.Preview = captionOr(body.VideoMessage.Caption, "[Video]")
		fillMedia(body.VideoMessage, out)
	case body.AudioMessage != nil:
		out.Kind = "audio"
		out.Preview = "[Audio]"
		fillMedia(body.AudioMessage, out)
	case body.DocumentMessage != nil:
		out.Kind = "document"
		out.Preview = captionOr(body.DocumentMessage.Caption, captionOr(body.DocumentMessage.FileName, "[Document]"))
		fillMedia(body.DocumentMessage, out)
	case body.StickerMessage != nil:
		out.Kind = "sticker"
		out.Preview = "[Sticker]"
		fillMedia(body.StickerMessage, out)
	default:
		out.Kind = "text"
	}
}

func captionOr(caption, fallback string) string {
	if caption != "" {
		return caption
	}
	return fallback
}

func fillMedia(part *rawMediaPart, out *NormalizedMessage) {
	out.MediaURL = part.URL
	out.MediaMimeType = part.Mimetype
	out.DurationSeconds = part.Seconds
	if size, err := part.FileLength.Int64(); err == nil {
		out.MediaSizeBytes = size
	}
}

// mapAckStatus maps the gateway's delivery acknowledgement vocabulary
// (names or numeric ack levels) onto message statuses. Unknown values
// map to empty and the update is dropped.
func mapAckStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SERVER_ACK", "SENT", "2":
		return "sent"
	case "DELIVERY_ACK", "DELIVERED", "3":
		return "delivered"
	case "READ", "READ_ACK", "4":
		return "read"
	case "ERROR", "FAILED", "5":
		return "failed"
	default:
		return ""
	}
}

func parseEventTime(n json.Number) time.Time {
	if n.String() == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	// Some gateway builds send milliseconds
	if secs > 1e12 {
		return time.UnixMilli(secs)
	}
	return time.Unix(secs, 0)
}
