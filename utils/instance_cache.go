package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"zapflow/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ErrUnknownInstance means no account has registered the instance name.
// Webhook writes that depend on ownership are skipped for such events.
var ErrUnknownInstance = errors.New("instance is not registered to any account")

const instanceOwnershipTTL = time.Hour

// InstanceCache resolves a gateway instance name to its owning account
// without a database round trip per webhook event. Entries live for an
// hour; Redis is used when available, otherwise an in-process map.
type InstanceCache struct {
	DB  *gorm.DB
	RDB *redis.Client

	mu    sync.RWMutex
	local map[string]instanceEntry

	now func() time.Time
}

type instanceEntry struct {
	userID    uint
	expiresAt time.Time
}

func NewInstanceCache(db *gorm.DB, rdb *redis.Client) *InstanceCache {
	return &InstanceCache{
		DB:    db,
		RDB:   rdb,
		local: make(map[string]instanceEntry),
		now:   time.Now,
	}
}

// Resolve returns the account that owns the given instance, consulting the
// cache first and falling back to the instance registry on a miss.
func (ic *InstanceCache) Resolve(ctx context.Context, instanceName string) (uint, error) {
	if userID, ok := ic.cachedLookup(ctx, instanceName); ok {
		return userID, nil
	}

	var instance models.WhatsAppInstance
	if err := ic.DB.Where("instance_name = ?", instanceName).First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownInstance
		}
		return 0, fmt.Errorf("instance lookup failed: %w", err)
	}

	ic.store(ctx, instanceName, instance.UserID)
	return instance.UserID, nil
}

// Invalidate drops a cached ownership entry, e.g. after an instance is
// re-registered to a different account.
func (ic *InstanceCache) Invalidate(ctx context.Context, instanceName string) {
	if ic.RDB != nil {
		ic.RDB.Del(ctx, instanceKey(instanceName))
		return
	}
	ic.mu.Lock()
	delete(ic.local, instanceName)
	ic.mu.Unlock()
}

func (ic *InstanceCache) cachedLookup(ctx context.Context, instanceName string) (uint, bool) {
	if ic.RDB != nil {
		val, err := ic.RDB.Get(ctx, instanceKey(instanceName)).Result()
		if err != nil {
			return 0, false
		}
		userID, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return uint(userID), true
	}

	ic.mu.RLock()
	entry, ok := ic.local[instanceName]
	ic.mu.RUnlock()
	if !ok || ic.now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.userID, true
}

func (ic *InstanceCache) store(ctx context.Context, instanceName string, userID uint) {
	if ic.RDB != nil {
		ic.RDB.Set(ctx, instanceKey(instanceName), strconv.FormatUint(uint64(userID), 10), instanceOwnershipTTL)
		return
	}
	ic.mu.Lock()
	ic.local[instanceName] = instanceEntry{userID: userID, expiresAt: ic.now().Add(instanceOwnershipTTL)}
	ic.mu.Unlock()
}

func instanceKey(name string) string {
	return "instance_owner:" + name
}
