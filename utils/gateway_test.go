package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGatewayClientSendText(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key": {"id": "MSG-123"}}`))
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL, "secret-key", 5*time.Second)
	id, err := client.SendText(context.Background(), "sales-01", "5511999998888", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id != "MSG-123" {
		t.Fatalf("message id = %q, want MSG-123", id)
	}
	if gotPath != "/message/sendText/sales-01" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAPIKey != "secret-key" {
		t.Fatalf("apikey header = %q", gotAPIKey)
	}
	if gotBody["number"] != "5511999998888" || gotBody["text"] != "hello" {
		t.Fatalf("request body = %v", gotBody)
	}
}

func TestGatewayClientMessageIDFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messageId": "ALT-456"}`))
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL, "k", 5*time.Second)
	id, err := client.SendAudio(context.Background(), "sales-01", "5511999998888", "https://cdn/a.ogg")
	if err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if id != "ALT-456" {
		t.Fatalf("message id = %q, want ALT-456", id)
	}
}

func TestGatewayClientErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "rate limited is transient", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error is transient", status: http.StatusBadGateway, wantTransient: true},
		{name: "bad request is permanent", status: http.StatusBadRequest, wantTransient: false},
		{name: "unauthorized is permanent", status: http.StatusUnauthorized, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": "nope"}`))
			}))
			defer srv.Close()

			client := NewGatewayClient(srv.URL, "k", 5*time.Second)
			_, err := client.SendText(context.Background(), "sales-01", "5511999998888", "hi")
			if err == nil {
				t.Fatal("expected error")
			}

			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("error type = %T, want *GatewayError", err)
			}
			if gwErr.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", gwErr.StatusCode, tt.status)
			}
			if gwErr.Transient() != tt.wantTransient {
				t.Fatalf("Transient() = %v, want %v", gwErr.Transient(), tt.wantTransient)
			}
		})
	}
}

func TestGatewayClientMediaAndSticker(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"key": {"id": "X"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewGatewayClient(srv.URL, "k", 5*time.Second)

	if _, err := client.SendMedia(ctx, "i", "55119", "image", "https://cdn/p.jpg", "cap"); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if _, err := client.SendSticker(ctx, "i", "55119", "https://cdn/s.webp"); err != nil {
		t.Fatalf("SendSticker: %v", err)
	}
	if _, err := client.SendContactCard(ctx, "i", "55119", "Ana", "5511988887777"); err != nil {
		t.Fatalf("SendContactCard: %v", err)
	}

	want := []string{"/message/sendMedia/i", "/message/sendSticker/i", "/message/sendContact/i"}
	if len(paths) != len(want) {
		t.Fatalf("got %d calls, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("call %d path = %q, want %q", i, paths[i], want[i])
		}
	}
}
