package utils

import (
	"context"
	"testing"
	"time"
)

func TestQRCacheSetGetEvict(t *testing.T) {
	ctx := context.Background()
	cache := NewQRCache(nil, time.Minute)

	if _, ok := cache.Get(ctx, "sales-01"); ok {
		t.Fatal("expected miss on empty cache")
	}

	payload := QRPayload{Code: "qr-token-1", Base64: "data:image/png;base64,AAAA", UpdatedAt: time.Now()}
	cache.Set(ctx, "sales-01", payload)

	got, ok := cache.Get(ctx, "sales-01")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.Code != payload.Code || got.Base64 != payload.Base64 {
		t.Fatalf("got %+v, want %+v", got, payload)
	}

	if _, ok := cache.Get(ctx, "sales-02"); ok {
		t.Fatal("expected miss for different instance")
	}

	cache.Evict(ctx, "sales-01")
	if _, ok := cache.Get(ctx, "sales-01"); ok {
		t.Fatal("expected miss after Evict")
	}
}

func TestQRCacheOverwriteSupersedes(t *testing.T) {
	ctx := context.Background()
	cache := NewQRCache(nil, time.Minute)

	cache.Set(ctx, "sales-01", QRPayload{Code: "old"})
	cache.Set(ctx, "sales-01", QRPayload{Code: "new", PairingCode: "ABCD-1234"})

	got, ok := cache.Get(ctx, "sales-01")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Code != "new" || got.PairingCode != "ABCD-1234" {
		t.Fatalf("stale payload survived overwrite: %+v", got)
	}
}

func TestQRCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewQRCache(nil, 5*time.Minute)

	current := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	cache.Set(ctx, "sales-01", QRPayload{Code: "qr-token"})

	current = current.Add(4 * time.Minute)
	if _, ok := cache.Get(ctx, "sales-01"); !ok {
		t.Fatal("expected hit before TTL")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := cache.Get(ctx, "sales-01"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestNewQRCacheDefaultsTTL(t *testing.T) {
	cache := NewQRCache(nil, 0)
	if cache.TTL != DefaultQRTTL {
		t.Fatalf("TTL = %v, want %v", cache.TTL, DefaultQRTTL)
	}
}
