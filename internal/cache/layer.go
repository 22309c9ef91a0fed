package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taxpoynt/platform/internal/circuitbreaker"
)

// ErrMiss is returned by Get when the key is absent from both tiers.
var ErrMiss = errors.New("cache miss")

// gzip magic prefix marks compressed values on the wire.
var gzipMagic = []byte{0x1f, 0x8b}

// Config tunes the tiered cache.
type Config struct {
	L1Capacity        int
	DefaultTTL        time.Duration
	CompressThreshold int // bytes; payloads above this are gzipped in L2

	// Observer, when set, is called once per tier consulted on a Get:
	// tier is "l1" or "l2", result is "hit", "miss", or "error".
	Observer func(tier, result string)
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		L1Capacity:        10_000,
		DefaultTTL:        5 * time.Minute,
		CompressThreshold: 1024,
	}
}

// Tiered is the two-level cache. L1 is the in-process LRU; L2 is Redis behind
// a circuit breaker. Remote errors never propagate to callers.
type Tiered struct {
	cfg     Config
	l1      *LRU
	remote  RemoteClient
	breaker *circuitbreaker.Breaker
	logger  *log.Logger
}

// New creates a tiered cache. remote may be nil, in which case only L1 is
// used (development mode).
func New(cfg Config, remote RemoteClient, breaker *circuitbreaker.Breaker) *Tiered {
	if cfg.L1Capacity == 0 {
		cfg.L1Capacity = DefaultConfig().L1Capacity
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = DefaultConfig().CompressThreshold
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("cache"))
	}
	return &Tiered{
		cfg:     cfg,
		l1:      NewLRU(cfg.L1Capacity),
		remote:  remote,
		breaker: breaker,
		logger:  log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

// TenantKey builds the tenant-prefixed cache key.
func TenantKey(orgID, key string) string {
	if orgID == "" {
		return GlobalKey(key)
	}
	return "tenant:" + orgID + ":" + key
}

// GlobalKey builds an unscoped cache key.
func GlobalKey(key string) string {
	return "global:" + key
}

// Get reads a value into dest (JSON). L1 miss falls through to L2 via the
// breaker; an L2 hit repopulates L1.
func (t *Tiered) Get(ctx context.Context, key string, dest interface{}) error {
	if raw, ok := t.l1.Get(key); ok {
		t.observe("l1", "hit")
		return json.Unmarshal(raw, dest)
	}
	t.observe("l1", "miss")

	if t.remote == nil {
		return ErrMiss
	}

	var payload []byte
	var missed bool
	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		b, err := t.remote.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// Key absence is a successful round-trip; only real remote
			// errors may count against the breaker.
			missed = true
			return nil
		}
		if err != nil {
			return err
		}
		payload = b
		return nil
	})
	if err != nil {
		// Breaker open or remote failure — the cache is advisory.
		t.observe("l2", "error")
		t.logger.Printf("L2 read failed for %s: %v", key, err)
		return ErrMiss
	}
	if missed {
		t.observe("l2", "miss")
		return ErrMiss
	}
	t.observe("l2", "hit")

	raw, err := maybeDecompress(payload)
	if err != nil {
		return fmt.Errorf("corrupt cache payload for %s: %w", key, err)
	}

	t.l1.Set(key, raw, t.cfg.DefaultTTL)
	return json.Unmarshal(raw, dest)
}

func (t *Tiered) observe(tier, result string) {
	if t.cfg.Observer != nil {
		t.cfg.Observer(tier, result)
	}
}

// Set writes a value to both tiers. The write succeeds when L1 succeeds; L2
// failures are logged and absorbed.
func (t *Tiered) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize cache value: %w", err)
	}
	if ttl == 0 {
		ttl = t.cfg.DefaultTTL
	}

	t.l1.Set(key, raw, ttl)

	if t.remote == nil {
		return nil
	}

	payload := raw
	if len(raw) > t.cfg.CompressThreshold {
		payload = compress(raw)
	}

	if err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		return t.remote.Set(ctx, key, payload, ttl).Err()
	}); err != nil {
		t.logger.Printf("L2 write failed for %s: %v", key, err)
	}
	return nil
}

// Delete removes a key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.l1.Delete(key)
	if t.remote == nil {
		return
	}
	if err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		return t.remote.Del(ctx, key).Err()
	}); err != nil {
		t.logger.Printf("L2 delete failed for %s: %v", key, err)
	}
}

// BreakerState exposes the L2 breaker state for health reporting.
func (t *Tiered) BreakerState() circuitbreaker.State {
	return t.breaker.State()
}

func compress(raw []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(raw)
	w.Close()
	return buf.Bytes()
}

func maybeDecompress(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, gzipMagic) {
		return payload, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
