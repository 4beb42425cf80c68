package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"replate/internal/donation/models"
	id "replate/pkg/domain"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replate_donation_cache_lookups_total",
		Help: "Donation cache lookups by result (hit, miss, error)",
	}, []string{"result"})
)

const (
	// Redis key prefix for cached donations
	donationKeyPrefix = "donation:"

	DefaultCacheTTL = 5 * time.Minute
)

// RedisDonationCache is a read-through cache for single donations. Concurrent
// misses on one key share a single load. Redis failures degrade to loading
// from the store.
type RedisDonationCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

type RedisCacheOption func(*RedisDonationCache)

func WithCacheLogger(logger *slog.Logger) RedisCacheOption {
	return func(c *RedisDonationCache) {
		c.logger = logger
	}
}

func NewRedisDonationCache(client *redis.Client, ttl time.Duration, opts ...RedisCacheOption) *RedisDonationCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &RedisDonationCache{client: client, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// cachedDonation keeps Seq, which the API representation omits.
type cachedDonation struct {
	*models.Donation
	Seq int64 `json:"seq"`
}

// Get returns the cached donation or calls load and caches its result.
// Errors from load are not cached.
func (c *RedisDonationCache) Get(ctx context.Context, donationID id.DonationID, load func(ctx context.Context) (*models.Donation, error)) (*models.Donation, error) {
	key := donationKeyPrefix + donationID.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedDonation
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil && entry.Donation != nil {
			cacheLookups.WithLabelValues("hit").Inc()
			entry.Donation.Seq = entry.Seq
			return entry.Donation, nil
		}
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "donation cache read failed", "donation_id", donationID, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		d, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if body, err := json.Marshal(cachedDonation{Donation: d, Seq: d.Seq}); err == nil {
			if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
				c.logger.WarnContext(ctx, "donation cache write failed", "donation_id", donationID, "error", err)
			}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	d := *v.(*models.Donation)
	return &d, nil
}

// Invalidate drops cached entries. Call after the unit of work that changed
// them has committed.
func (c *RedisDonationCache) Invalidate(ctx context.Context, ids ...id.DonationID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, donationID := range ids {
		keys[i] = donationKeyPrefix + donationID.String()
	}
	return c.client.Del(ctx, keys...).Err()
}
