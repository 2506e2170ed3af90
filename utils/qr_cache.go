package utils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultQRTTL is how long a pairing payload stays readable. The gateway
// rotates QR codes faster than this, so each update overwrites the key.
const DefaultQRTTL = 300 * time.Second

// QRPayload is the cached pairing state for an instance awaiting connection.
type QRPayload struct {
	Code        string    `json:"code"`
	Base64      string    `json:"base64,omitempty"`
	PairingCode string    `json:"pairing_code,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QRCache stores the latest QR/pairing payload per instance with a short
// TTL. Redis-backed when a client is provided, in-process otherwise.
type QRCache struct {
	RDB *redis.Client
	TTL time.Duration

	mu    sync.RWMutex
	local map[string]qrEntry

	now func() time.Time
}

type qrEntry struct {
	payload   QRPayload
	expiresAt time.Time
}

func NewQRCache(rdb *redis.Client, ttl time.Duration) *QRCache {
	if ttl <= 0 {
		ttl = DefaultQRTTL
	}
	return &QRCache{
		RDB:   rdb,
		TTL:   ttl,
		local: make(map[string]qrEntry),
		now:   time.Now,
	}
}

// Set stores the payload for an instance, superseding any previous one.
func (q *QRCache) Set(ctx context.Context, instanceName string, payload QRPayload) {
	if q.RDB != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		q.RDB.Set(ctx, qrKey(instanceName), data, q.TTL)
		return
	}
	q.mu.Lock()
	q.local[instanceName] = qrEntry{payload: payload, expiresAt: q.now().Add(q.TTL)}
	q.mu.Unlock()
}

// Get returns the cached payload, or false when none exists or it expired.
func (q *QRCache) Get(ctx context.Context, instanceName string) (QRPayload, bool) {
	if q.RDB != nil {
		data, err := q.RDB.Get(ctx, qrKey(instanceName)).Bytes()
		if err != nil {
			return QRPayload{}, false
		}
		var payload QRPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return QRPayload{}, false
		}
		return payload, true
	}

	q.mu.RLock()
	entry, ok := q.local[instanceName]
	q.mu.RUnlock()
	if !ok || q.now().After(entry.expiresAt) {
		return QRPayload{}, false
	}
	return entry.payload, true
}

// Evict removes the pairing payload once the instance connects.
func (q *QRCache) Evict(ctx context.Context, instanceName string) {
	if q.RDB != nil {
		q.RDB.Del(ctx, qrKey(instanceName))
		return
	}
	q.mu.Lock()
	delete(q.local, instanceName)
	q.mu.Unlock()
}

func qrKey(name string) string {
	return "instance_qr:" + name
}
