package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "insight:key:"

// CallerRecord holds the membership metadata resolved from an API key.
type CallerRecord struct {
	KeyID            string    `json:"key_id"`
	Name             string    `json:"name"`
	TenantID         string    `json:"tenant_id,omitempty"`
	CrossTenantAdmin bool      `json:"cross_tenant_admin"`
	AllowedTenantIDs []string  `json:"allowed_tenant_ids,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CallerStore looks up caller membership by API key hash.
type CallerStore interface {
	Lookup(ctx context.Context, keyHash string) (*CallerRecord, error)
}

// CachedCallerStore implements CallerStore with PostgreSQL + Redis cache.
type CachedCallerStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedCallerStore(db *pgxpool.Pool, rdb *redis.Client) *CachedCallerStore {
	return &CachedCallerStore{db: db, redis: rdb}
}

func (s *CachedCallerStore) Lookup(ctx context.Context, keyHash string) (*CallerRecord, error) {
	// Check Redis cache first
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var rec CallerRecord
			if err := json.Unmarshal(cached, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	rec, err := s.lookupDB(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	// Cache in Redis
	if s.redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, redisCacheTTL)
		}
	}

	return rec, nil
}

func (s *CachedCallerStore) lookupDB(ctx context.Context, keyHash string) (*CallerRecord, error) {
	var rec CallerRecord
	var tenantID *string

	err := s.db.QueryRow(ctx, `
		SELECT id, name, tenant_id, cross_tenant_admin, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&rec.KeyID,
		&rec.Name,
		&tenantID,
		&rec.CrossTenantAdmin,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_keys: %w", err)
	}

	if tenantID != nil {
		rec.TenantID = *tenantID
	}

	rows, err := s.db.Query(ctx, `
		SELECT tenant_id FROM tenant_memberships WHERE key_id = $1
	`, rec.KeyID)
	if err != nil {
		return nil, fmt.Errorf("query tenant_memberships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		rec.AllowedTenantIDs = append(rec.AllowedTenantIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read memberships: %w", err)
	}

	// Update last_used_at asynchronously (fire-and-forget)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, rec.KeyID)
	}()

	return &rec, nil
}
