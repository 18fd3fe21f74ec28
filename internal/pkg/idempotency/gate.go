package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/deskrelay/deskrelay/internal/pkg/env"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

const (
	// KeyPrefix namespaces idempotency records in the shared store
	KeyPrefix = "idem:"

	// DefaultTTLSeconds keeps dedup records for 3 days
	DefaultTTLSeconds = 259200
)

// Claimer is the one store operation the gate needs: an atomic
// insert-if-absent with TTL. *redis.Client satisfies it via SetNX.
type Claimer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Gate rejects re-delivered external events. Claim is the linearization
// point: workers racing on a redelivery resolve through the store's atomic
// SetNX, never through a read-then-write sequence.
type Gate struct {
	store Claimer
	ttl   time.Duration

	// Degraded is invoked when the store is unreachable and the gate
	// fails open. Optional.
	Degraded func(channel string, tenantID tenantctx.TenantID, fingerprint string)
}

// NewGate creates a gate over the shared store. TTL comes from
// IDEMPOTENCY_TTL_SECONDS, defaulting to 3 days.
func NewGate(store Claimer) *Gate {
	ttl := time.Duration(env.GetEnvInt("IDEMPOTENCY_TTL_SECONDS", DefaultTTLSeconds)) * time.Second
	return &Gate{store: store, ttl: ttl}
}

// NewGateWithTTL creates a gate with an explicit TTL (used by tests)
func NewGateWithTTL(store Claimer, ttl time.Duration) *Gate {
	return &Gate{store: store, ttl: ttl}
}

// Claim atomically records the fingerprint. True means first delivery,
// proceed; false means duplicate, drop. When the store is unreachable the
// gate fails open: duplicate processing beats an ingestion outage, but the
// degraded mode is surfaced as a warning.
func (g *Gate) Claim(ctx context.Context, channel string, tenantID tenantctx.TenantID, fingerprint string) bool {
	key := Key(channel, tenantID, fingerprint)

	first, err := g.store.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		log.Warnf("[Idempotency] Store unreachable, failing open for %s: %v", key, err)
		if g.Degraded != nil {
			g.Degraded(channel, tenantID, fingerprint)
		}
		return true
	}

	if !first {
		log.Debugf("[Idempotency] Duplicate event dropped: %s", key)
	}
	return first
}

// Key builds the store key for (channel, tenant, fingerprint)
func Key(channel string, tenantID tenantctx.TenantID, fingerprint string) string {
	return fmt.Sprintf("%s%s:%d:%s", KeyPrefix, channel, tenantID, fingerprint)
}

// Fingerprint derives the dedup identifier for an inbound event. The
// provider-supplied message id wins; otherwise a hash of the normalized
// payload stands in.
func Fingerprint(providerMessageID string, payload []byte) string {
	if providerMessageID != "" {
		return providerMessageID
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}
