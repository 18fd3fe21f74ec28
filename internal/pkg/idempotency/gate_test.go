package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

// fakeClaimer records claims in memory and can simulate an unreachable
// store.
type fakeClaimer struct {
	seen        map[string]bool
	unreachable bool
	lastTTL     time.Duration
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{seen: make(map[string]bool)}
}

func (f *fakeClaimer) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.unreachable {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	f.lastTTL = expiration
	if f.seen[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.seen[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestGate_ClaimFirstDeliveryThenDuplicate(t *testing.T) {
	store := newFakeClaimer()
	gate := NewGateWithTTL(store, time.Hour)
	ctx := context.Background()

	assert.True(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
	assert.False(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
	assert.Equal(t, time.Hour, store.lastTTL)
}

func TestGate_ClaimScopedByChannelAndTenant(t *testing.T) {
	gate := NewGateWithTTL(newFakeClaimer(), time.Hour)
	ctx := context.Background()

	assert.True(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
	assert.True(t, gate.Claim(ctx, "telegram", 1, "wamid.123"))
	assert.True(t, gate.Claim(ctx, "whatsapp", 2, "wamid.123"))
	assert.False(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
}

func TestGate_FailsOpenWhenStoreUnreachable(t *testing.T) {
	store := newFakeClaimer()
	store.unreachable = true
	gate := NewGateWithTTL(store, time.Hour)

	var degraded int
	gate.Degraded = func(channel string, tenantID tenantctx.TenantID, fingerprint string) {
		degraded++
	}

	ctx := context.Background()
	assert.True(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
	assert.True(t, gate.Claim(ctx, "whatsapp", 1, "wamid.123"))
	assert.Equal(t, 2, degraded)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "idem:whatsapp:7:wamid.99", Key("whatsapp", 7, "wamid.99"))
}

func TestFingerprint(t *testing.T) {
	payload := []byte(`{"type":"message"}`)

	assert.Equal(t, "wamid.123", Fingerprint("wamid.123", payload))

	hashed := Fingerprint("", payload)
	assert.Contains(t, hashed, "sha256:")
	// deterministic for the same payload, different for another
	assert.Equal(t, hashed, Fingerprint("", payload))
	assert.NotEqual(t, hashed, Fingerprint("", []byte(`{"type":"status"}`)))
}
