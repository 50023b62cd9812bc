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

package discovery

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgAgentStore Postgres 实现：agents 表
type PgAgentStore struct {
	pool *pgxpool.Pool
}

// NewPgAgentStore 复用已有连接池
func NewPgAgentStore(pool *pgxpool.Pool) *PgAgentStore {
	return &PgAgentStore{pool: pool}
}

func (s *PgAgentStore) Insert(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = "agent-" + uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, description, package_name, version, verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Name, a.Description, a.PackageName, a.Version, a.Verified, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePackage
		}
		return err
	}
	return nil
}

func (s *PgAgentStore) Get(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, package_name, version, verified, created_at, updated_at
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Description, &a.PackageName, &a.Version, &a.Verified, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PgAgentStore) List(ctx context.Context, f AgentFilter) ([]*Agent, int, error) {
	where := ``
	if f.VerifiedOnly {
		where = ` WHERE verified = TRUE`
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agents`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, name, description, package_name, version, verified, created_at, updated_at
		 FROM agents` + where + ` ORDER BY created_at ASC`
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
	var list []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.PackageName, &a.Version, &a.Verified, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &a)
	}
	return list, total, rows.Err()
}

func (s *PgAgentStore) All(ctx context.Context) ([]*Agent, error) {
	list, _, err := s.List(ctx, AgentFilter{})
	return list, err
}

func (s *PgAgentStore) TouchIndexed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}
