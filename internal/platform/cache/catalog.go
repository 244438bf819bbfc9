// Package cache keeps the backend's reference data (symptom catalog,
// department mapping table, lookup lists) in Redis so every kiosk session
// does not refetch it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
)

const (
	keySymptoms = "clicare:catalog:symptoms"
	keyMappings = "clicare:catalog:department-mapping"
	keyLookups  = "clicare:catalog:lookups"
)

// Source is the backend surface the cache reads through to.
type Source interface {
	Symptoms(ctx context.Context) ([]backend.SymptomCategory, error)
	DepartmentMappings(ctx context.Context) ([]backend.DepartmentMapping, error)
	Lookups(ctx context.Context) (*backend.Lookups, error)
}

// Catalog is a read-through Redis cache in front of Source. Redis failures
// are logged and fall through to the source.
type Catalog struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCatalog creates a Catalog. A nil client disables caching.
func NewCatalog(source Source, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Catalog {
	return &Catalog{
		source: source,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog-cache").Logger(),
	}
}

func (c *Catalog) Symptoms(ctx context.Context) ([]backend.SymptomCategory, error) {
	var out []backend.SymptomCategory
	err := readThrough(ctx, c, keySymptoms, &out, func() (any, error) {
		return c.source.Symptoms(ctx)
	})
	return out, err
}

func (c *Catalog) DepartmentMappings(ctx context.Context) ([]backend.DepartmentMapping, error) {
	var out []backend.DepartmentMapping
	err := readThrough(ctx, c, keyMappings, &out, func() (any, error) {
		return c.source.DepartmentMappings(ctx)
	})
	return out, err
}

func (c *Catalog) Lookups(ctx context.Context) (*backend.Lookups, error) {
	var out backend.Lookups
	if err := readThrough(ctx, c, keyLookups, &out, func() (any, error) {
		return c.source.Lookups(ctx)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invalidate drops every cached entry.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keySymptoms, keyMappings, keyLookups).Err()
}

// readThrough decodes the cached value at key into dst, or calls load, caches
// its result and decodes that into dst.
func readThrough(ctx context.Context, c *Catalog, key string, dst any, load func() (any, error)) error {
	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if jerr := json.Unmarshal(data, dst); jerr == nil {
				return nil
			}
			c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		case err != redis.Nil:
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
	}

	v, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return json.Unmarshal(data, dst)
}
