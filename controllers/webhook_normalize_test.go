package controller

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventKind(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{event: "qrcode.updated", want: EventQRUpdated},
		{event: "QRCODE_UPDATED", want: EventQRUpdated},
		{event: "connection.update", want: EventConnectionUpdate},
		{event: "CONNECTION_UPDATE", want: EventConnectionUpdate},
		{event: "messages.upsert", want: EventMessagesUpsert},
		{event: "MESSAGES_UPSERT", want: EventMessagesUpsert},
		{event: "messages.set", want: EventMessagesUpsert},
		{event: "messages.update", want: EventMessagesUpdate},
		{event: "MESSAGES_UPDATE", want: EventMessagesUpdate},
		{event: "contacts.upsert", want: EventUnknown},
		{event: "", want: EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			env := &WebhookEnvelope{Event: tt.event}
			if got := env.EventKind(); got != tt.want {
				t.Fatalf("EventKind(%q) = %q, want %q", tt.event, got, tt.want)
			}
		})
	}
}

func TestInstanceName(t *testing.T) {
	tests := []struct {
		name     string
		instance string
		want     string
	}{
		{name: "plain string", instance: `"sales-01"`, want: "sales-01"},
		{name: "object instanceName", instance: `{"instanceName":"sales-02"}`, want: "sales-02"},
		{name: "object name fallback", instance: `{"name":"sales-03"}`, want: "sales-03"},
		{name: "instanceName wins over name", instance: `{"instanceName":"a","name":"b"}`, want: "a"},
		{name: "unusable shape", instance: `42`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &WebhookEnvelope{Instance: json.RawMessage(tt.instance)}
			if got := env.InstanceName(); got != tt.want {
				t.Fatalf("InstanceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMessagesUpsertSingleObject(t *testing.T) {
	data := json.RawMessage(`{
		"key": {"remoteJid": "5511999998888@s.whatsapp.net", "fromMe": false, "id": "ABC123"},
		"pushName": "Ana",
		"messageTimestamp": 1749636000,
		"message": {"conversation": "hello there"}
	}`)

	msgs := ParseMessagesUpsert(data)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ExternalID != "ABC123" {
		t.Fatalf("ExternalID = %q", m.ExternalID)
	}
	if m.Phone != "5511999998888" {
		t.Fatalf("Phone = %q", m.Phone)
	}
	if m.PushName != "Ana" || m.FromMe {
		t.Fatalf("identity fields wrong: %+v", m)
	}
	if m.Kind != "text" || m.Preview != "hello there" {
		t.Fatalf("content fields wrong: kind=%q preview=%q", m.Kind, m.Preview)
	}
	if want := time.Unix(1749636000, 0); !m.Timestamp.Equal(want) {
		t.Fatalf("Timestamp = %v, want %v", m.Timestamp, want)
	}
}

func TestParseMessagesUpsertWrappedArray(t *testing.T) {
	data := json.RawMessage(`{"messages": [
		{"key": {"remoteJid": "5511999998888@s.whatsapp.net", "id": "A1"}, "message": {"conversation": "one"}},
		{"key": {"remoteJid": "5521988887777@s.whatsapp.net", "id": "A2"}, "message": {"conversation": "two"}}
	]}`)

	msgs := ParseMessagesUpsert(data)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ExternalID != "A1" || msgs[1].ExternalID != "A2" {
		t.Fatalf("order or ids wrong: %q, %q", msgs[0].ExternalID, msgs[1].ExternalID)
	}
}

func TestParseMessagesUpsertBareArray(t *testing.T) {
	data := json.RawMessage(`[
		{"key": {"remoteJid": "5511999998888@s.whatsapp.net", "id": "B1"}, "message": {"conversation": "hi"}}
	]`)

	msgs := ParseMessagesUpsert(data)
	if len(msgs) != 1 || msgs[0].ExternalID != "B1" {
		t.Fatalf("bare array not handled: %+v", msgs)
	}
}

func TestParseMessagesUpsertPhoneDerivation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string // empty means the entry must be skipped
	}{
		{name: "direct chat", key: `{"remoteJid": "5511999998888@s.whatsapp.net", "id": "1"}`, want: "5511999998888"},
		{name: "device suffix stripped", key: `{"remoteJid": "5511999998888:12@s.whatsapp.net", "id": "2"}`, want: "5511999998888"},
		{name: "group uses participant", key: `{"remoteJid": "12036304@g.us", "participant": "5521988887777@s.whatsapp.net", "id": "3"}`, want: "5521988887777"},
		{name: "group without participant skipped", key: `{"remoteJid": "12036304@g.us", "id": "4"}`, want: ""},
		{name: "broadcast skipped", key: `{"remoteJid": "status@broadcast", "id": "5"}`, want: ""},
		{name: "non numeric skipped", key: `{"remoteJid": "not-a-number@s.whatsapp.net", "id": "6"}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := json.RawMessage(`{"key": ` + tt.key + `, "message": {"conversation": "x"}}`)
			msgs := ParseMessagesUpsert(data)
			if tt.want == "" {
				if len(msgs) != 0 {
					t.Fatalf("expected entry to be skipped, got %+v", msgs)
				}
				return
			}
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}
			if msgs[0].Phone != tt.want {
				t.Fatalf("Phone = %q, want %q", msgs[0].Phone, tt.want)
			}
		})
	}
}

func TestParseMessagesUpsertContentClassification(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantKind    string
		wantPreview string
		wantURL     string
	}{
		{
			name:        "extended text",
			message:     `{"extendedTextMessage": {"text": "linked reply"}}`,
			wantKind:    "text",
			wantPreview: "linked reply",
		},
		{
			name:        "image with caption",
			message:     `{"imageMessage": {"url": "https://cdn/img.jpg", "caption": "look", "mimetype": "image/jpeg"}}`,
			wantKind:    "image",
			wantPreview: "look",
			wantURL:     "https://cdn/img.jpg",
		},
		{
			name:        "image without caption",
			message:     `{"imageMessage": {"url": "https://cdn/img.jpg"}}`,
			wantKind:    "image",
			wantPreview: "[Image]",
			wantURL:     "https://cdn/img.jpg",
		},
		{
			name:        "audio",
			message:     `{"audioMessage": {"url": "https://cdn/a.ogg", "seconds": 12, "mimetype": "audio/ogg"}}`,
			wantKind:    "audio",
			wantPreview: "[Audio]",
			wantURL:     "https://cdn/a.ogg",
		},
		{
			name:        "document falls back to file name",
			message:     `{"documentMessage": {"url": "https://cdn/d.pdf", "fileName": "invoice.pdf"}}`,
			wantKind:    "document",
			wantPreview: "invoice.pdf",
			wantURL:     "https://cdn/d.pdf",
		},
		{
			name:        "sticker",
			message:     `{"stickerMessage": {"url": "https://cdn/s.webp"}}`,
			wantKind:    "sticker",
			wantPreview: "[Sticker]",
			wantURL:     "https://cdn/s.webp",
		},
		{
			name:        "missing body defaults to text",
			message:     `null`,
			wantKind:    "text",
			wantPreview: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := json.RawMessage(`{"key": {"remoteJid": "5511999998888@s.whatsapp.net", "id": "X"}, "message": ` + tt.message + `}`)
			msgs := ParseMessagesUpsert(data)
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}
			m := msgs[0]
			if m.Kind != tt.wantKind {
				t.Fatalf("Kind = %q, want %q", m.Kind, tt.wantKind)
			}
			if m.Preview != tt.wantPreview {
				t.Fatalf("Preview = %q, want %q", m.Preview, tt.wantPreview)
			}
			if m.MediaURL != tt.wantURL {
				t.Fatalf("MediaURL = %q, want %q", m.MediaURL, tt.wantURL)
			}
		})
	}
}

func TestParseMessagesUpsertMediaMetadata(t *testing.T) {
	data := json.RawMessage(`{
		"key": {"remoteJid": "5511999998888@s.whatsapp.net", "id": "M1"},
		"message": {"audioMessage": {"url": "https://cdn/a.ogg", "mimetype": "audio/ogg; codecs=opus", "fileLength": "48213", "seconds": 9}}
	}`)

	msgs := ParseMessagesUpsert(data)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.MediaMimeType != "audio/ogg; codecs=opus" {
		t.Fatalf("MediaMimeType = %q", m.MediaMimeType)
	}
	if m.MediaSizeBytes != 48213 {
		t.Fatalf("MediaSizeBytes = %d", m.MediaSizeBytes)
	}
	if m.DurationSeconds != 9 {
		t.Fatalf("DurationSeconds = %d", m.DurationSeconds)
	}
}

func TestParseMessagesUpdate(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantID     string
		wantStatus string
	}{
		{name: "keyId with status name", data: `{"keyId": "ABC", "status": "DELIVERY_ACK"}`, wantID: "ABC", wantStatus: "delivered"},
		{name: "key.id with nested status", data: `{"key": {"id": "DEF"}, "update": {"status": "READ"}}`, wantID: "DEF", wantStatus: "read"},
		{name: "numeric ack level", data: `{"keyId": "GHI", "status": "2"}`, wantID: "GHI", wantStatus: "sent"},
		{name: "error ack", data: `{"keyId": "JKL", "status": "ERROR"}`, wantID: "JKL", wantStatus: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates := ParseMessagesUpdate(json.RawMessage(tt.data))
			if len(updates) != 1 {
				t.Fatalf("got %d updates, want 1", len(updates))
			}
			if updates[0].ExternalID != tt.wantID || updates[0].Status != tt.wantStatus {
				t.Fatalf("got %+v, want id=%q status=%q", updates[0], tt.wantID, tt.wantStatus)
			}
		})
	}
}

func TestParseMessagesUpdateDropsUnusableEntries(t *testing.T) {
	data := json.RawMessage(`[
		{"status": "READ"},
		{"keyId": "OK1", "status": "SOMETHING_ELSE"},
		{"keyId": "OK2", "status": "READ"}
	]`)

	updates := ParseMessagesUpdate(data)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1: %+v", len(updates), updates)
	}
	if updates[0].ExternalID != "OK2" || updates[0].Status != "read" {
		t.Fatalf("surviving update wrong: %+v", updates[0])
	}
}

func TestMapAckStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_ACK", "sent"},
		{"sent", "sent"},
		{"DELIVERY_ACK", "delivered"},
		{"3", "delivered"},
		{"READ", "read"},
		{"read_ack", "read"},
		{"4", "read"},
		{"ERROR", "failed"},
		{"5", "failed"},
		{"PENDING", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := mapAckStatus(tt.in); got != tt.want {
			t.Fatalf("mapAckStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseQRUpdate(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantOK bool
		want   QRUpdate
	}{
		{
			name:   "nested qrcode object",
			data:   `{"qrcode": {"code": "token-1", "base64": "data:image/png;base64,AA", "pairingCode": "WXYZ"}}`,
			wantOK: true,
			want:   QRUpdate{Code: "token-1", Base64: "data:image/png;base64,AA", PairingCode: "WXYZ"},
		},
		{
			name:   "flat fields",
			data:   `{"code": "token-2", "base64": "data:image/png;base64,BB"}`,
			wantOK: true,
			want:   QRUpdate{Code: "token-2", Base64: "data:image/png;base64,BB"},
		},
		{
			name:   "nested overrides flat",
			data:   `{"code": "flat", "qrcode": {"code": "nested"}}`,
			wantOK: true,
			want:   QRUpdate{Code: "nested"},
		},
		{name: "empty payload rejected", data: `{}`, wantOK: false},
		{name: "garbage rejected", data: `[1,2,3]`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseQRUpdate(json.RawMessage(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseConnectionState(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "state field", data: `{"state": "open"}`, want: "open"},
		{name: "connection field", data: `{"connection": "close"}`, want: "close"},
		{name: "state wins", data: `{"state": "OPEN", "connection": "close"}`, want: "open"},
		{name: "neither", data: `{}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseConnectionState(json.RawMessage(tt.data)); got != tt.want {
				t.Fatalf("ParseConnectionState = %q, want %q", got, tt.want)
			}
		})
	}

	if !IsConnectedState("open") || !IsConnectedState("connected") {
		t.Fatal("open/connected must count as connected")
	}
	if IsConnectedState("connecting") || IsConnectedState("close") {
		t.Fatal("connecting/close must not count as connected")
	}
}

func TestParseEventTimeMilliseconds(t *testing.T) {
	data := json.RawMessage(`{
		"key": {"remoteJid": "5511999998888@s.whatsapp.net", "id": "T1"},
		"messageTimestamp": 1749636000123,
		"message": {"conversation": "hi"}
	}`)

	msgs := ParseMessagesUpsert(data)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if want := time.UnixMilli(1749636000123); !msgs[0].Timestamp.Equal(want) {
		t.Fatalf("Timestamp = %v, want %v", msgs[0].Timestamp, want)
	}
}
