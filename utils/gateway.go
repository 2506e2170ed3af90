package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayError is a non-2xx response from the WhatsApp gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying (rate-limit
// rejections and server-side errors).
func (e *GatewayError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GatewayClient talks to an Evolution-style WhatsApp gateway over HTTP.
// Every send operation returns the provider message id, which later
// status-update webhooks reference.
type GatewayClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// sendResponse is the subset of the gateway reply we care about.
type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	MessageID string `json:"messageId"`
}

func (g *GatewayClient) SendText(ctx context.Context, instance, phone, text string) (string, error) {
	return g.post(ctx, "/message/sendText/"+instance, map[string]interface{}{
		"number": phone,
		"text":   text,
	})
}

// SendMedia sends image, video or document messages with an optional caption.
func (g *GatewayClient) SendMedia(ctx context.Context, instance, phone, mediaType, mediaURL, caption string) (string, error) {
	return g.post(ctx, "/message/sendMedia/"+instance, map[string]interface{}{
		"number":    phone,
		"mediatype": mediaType,
		"media":     mediaURL,
		"caption":   caption,
	})
}

// SendAudio sends a voice-note style audio message.
func (g *GatewayClient) SendAudio(ctx context.Context, instance, phone, audioURL string) (string, error) {
	return g.post(ctx, "/message/sendWhatsAppAudio/"+instance, map[string]interface{}{
		"number": phone,
		"audio":  audioURL,
	})
}

func (g *GatewayClient) SendSticker(ctx context.Context, instance, phone, stickerURL string) (string, error) {
	return g.post(ctx, "/message/sendSticker/"+instance, map[string]interface{}{
		"number":  phone,
		"sticker": stickerURL,
	})
}

// SendContactCard shares a contact card with the destination number.
func (g *GatewayClient) SendContactCard(ctx context.Context, instance, phone, contactName, contactPhone string) (string, error) {
	return g.post(ctx, "/message/sendContact/"+instance, map[string]interface{}{
		"number": phone,
		"contact": []map[string]string{
			{
				"fullName":    contactName,
				"phoneNumber": contactPhone,
			},
		},
	})
}

func (g *GatewayClient) post(ctx context.Context, path string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", g.APIKey)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if parsed.Key.ID != "" {
		return parsed.Key.ID, nil
	}
	return parsed.MessageID, nil
}
