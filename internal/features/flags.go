// Package features resolves feature flags from config defaults with
// per-flag overrides kept in a redis hash.
package features

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/servicehub/backend/internal/services"
	"github.com/sirupsen/logrus"
)

// HashKey is the redis hash holding flag overrides ("1"/"0", "true"/"false").
const HashKey = "feature_flags"

type Flags struct {
	defaults map[string]bool
	redis    *redis.Client
	logger   logrus.FieldLogger
}

// New returns flags backed by defaults. rdb may be nil, in which case only
// the defaults apply.
func New(defaults map[string]bool, rdb *redis.Client, logger logrus.FieldLogger) *Flags {
	copied := make(map[string]bool, len(defaults))
	for k, v := range defaults {
		copied[k] = v
	}
	return &Flags{
		defaults: copied,
		redis:    rdb,
		logger:   logger.WithField("component", "features"),
	}
}

func (f *Flags) IsEnabled(ctx context.Context, feature services.Feature) bool {
	fallback := f.defaults[string(feature)]
	if f.redis == nil {
		return fallback
	}

	val, err := f.redis.HGet(ctx, HashKey, string(feature)).Result()
	if err == redis.Nil {
		return fallback
	}
	if err != nil {
		f.logger.WithError(err).WithField("feature", feature).Warn("flag lookup failed, using default")
		return fallback
	}

	switch val {
	case "1", "true", "on":
		return true
	case "0", "false", "off":
		return false
	}
	f.logger.WithFields(logrus.Fields{"feature": feature, "value": val}).Warn("unrecognised flag value, using default")
	return fallback
}

// Set stores an override for feature.
func (f *Flags) Set(ctx context.Context, feature services.Feature, enabled bool) error {
	if f.redis == nil {
		f.defaults[string(feature)] = enabled
		return nil
	}
	val := "0"
	if enabled {
		val = "1"
	}
	return f.redis.HSet(ctx, HashKey, string(feature), val).Err()
}
