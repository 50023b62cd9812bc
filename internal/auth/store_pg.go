// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore Postgres 实现：api_keys 表
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 创建基于 PostgreSQL 的 API Key 存储
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// NewPgStoreWithPool 复用已有连接池
func NewPgStoreWithPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Close 关闭连接池
func (s *PgStore) Close() {
	s.pool.Close()
}

func scopesToPg(scopes []Scope) string {
	parts := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		parts = append(parts, string(sc))
	}
	return strings.Join(parts, ",")
}

func pgToScopes(s *string) []Scope {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	parts := strings.Split(*s, ",")
	out := make([]Scope, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, Scope(t))
		}
	}
	return out
}

func (s *PgStore) Insert(ctx context.Context, key *APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, owner_email, key_hash, key_prefix, scopes, rate_limit, active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.Name, key.OwnerEmail, key.KeyHash, key.KeyPrefix, scopesToPg(key.Scopes), key.RateLimit, key.Active, key.CreatedAt, key.ExpiresAt)
	return err
}

const keyColumns = `id, name, owner_email, key_hash, key_prefix, scopes, rate_limit, active, created_at, expires_at, revoked_at, revoked_reason, last_used_at, usage_count`

func scanKey(row pgx.Row) (*APIKey, error) {
	var k APIKey
	var scopes *string
	var ownerEmail, revokedReason *string
	err := row.Scan(&k.ID, &k.Name, &ownerEmail, &k.KeyHash, &k.KeyPrefix, &scopes, &k.RateLimit, &k.Active,
		&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &revokedReason, &k.LastUsedAt, &k.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	if ownerEmail != nil {
		k.OwnerEmail = *ownerEmail
	}
	if revokedReason != nil {
		k.RevokedReason = *revokedReason
	}
	k.Scopes = pgToScopes(scopes)
	return &k, nil
}

func (s *PgStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	return scanKey(s.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
}

func (s *PgStore) GetByID(ctx context.Context, id string) (*APIKey, error) {
	return scanKey(s.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
}

func (s *PgStore) List(ctx context.Context, f KeyFilter) ([]*APIKey, int, error) {
	where := ""
	if f.ActiveOnly {
		where = ` WHERE active = TRUE`
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + keyColumns + ` FROM api_keys` + where + ` ORDER BY created_at ASC`
	args := []interface{}{}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var keys []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, k)
	}
	return keys, total, rows.Err()
}

func (s *PgStore) Revoke(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys
		 SET active = FALSE,
		     revoked_at = COALESCE(revoked_at, $2),
		     revoked_reason = CASE WHEN revoked_at IS NULL THEN $3 ELSE revoked_reason END
		 WHERE id = $1`,
		id, time.Now().UTC(), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *PgStore) TouchUsage(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2, usage_count = usage_count + 1 WHERE id = $1`,
		id, time.Now().UTC())
	return err
}
