package db

import (
	"context"
	"database/sql"
)

// CreateClientParams contains fields for a new API client.
type CreateClientParams struct {
	Tenant    string
	Name      string
	KeyPrefix string
	KeyHash   string
}

// CreateClient inserts a new API client credential.
func (c *Database) CreateClient(ctx context.Context, params CreateClientParams) (APIClient, error) {
	const query = `-- name: CreateClient :one
INSERT INTO api_clients (tenant, name, key_prefix, key_hash, status, created_at)
VALUES (?, ?, ?, ?, 'active', ?)
RETURNING id, tenant, name, key_prefix, key_hash, status, request_count, last_used_at, created_at`
	row := c.dbtx.QueryRowContext(ctx, query, params.Tenant, params.Name, params.KeyPrefix, params.KeyHash, nowUTC())
	return scanClient(row)
}

// GetClientByKeyPrefix resolves a client from its public key prefix.
func (c *Database) GetClientByKeyPrefix(ctx context.Context, keyPrefix string) (APIClient, error) {
	const query = `-- name: GetClientByKeyPrefix :one
SELECT id, tenant, name, key_prefix, key_hash, status, request_count, last_used_at, created_at
FROM api_clients
WHERE key_prefix = ?`
	row := c.dbtx.QueryRowContext(ctx, query, keyPrefix)
	return scanClient(row)
}

// GetClientByID fetches a client by id.
func (c *Database) GetClientByID(ctx context.Context, id int64) (APIClient, error) {
	const query = `-- name: GetClientByID :one
SELECT id, tenant, name, key_prefix, key_hash, status, request_count, last_used_at, created_at
FROM api_clients
WHERE id = ?`
	row := c.dbtx.QueryRowContext(ctx, query, id)
	return scanClient(row)
}

// SetClientStatus toggles a client between active and disabled.
func (c *Database) SetClientStatus(ctx context.Context, id int64, status string) error {
	const query = `-- name: SetClientStatus :exec
UPDATE api_clients SET status = ? WHERE id = ?`
	_, err := c.dbtx.ExecContext(ctx, query, status, id)
	return err
}

// TouchClientUsage increments the usage counter after a successful authentication.
func (c *Database) TouchClientUsage(ctx context.Context, id int64) error {
	const query = `-- name: TouchClientUsage :exec
UPDATE api_clients
SET request_count = request_count + 1,
    last_used_at = ?
WHERE id = ?`
	_, err := c.dbtx.ExecContext(ctx, query, nowUTC(), id)
	return err
}

// ListClients returns all API clients ordered by creation.
func (c *Database) ListClients(ctx context.Context) ([]APIClient, error) {
	const query = `-- name: ListClients :many
SELECT id, tenant, name, key_prefix, key_hash, status, request_count, last_used_at, created_at
FROM api_clients
ORDER BY created_at`
	rows, err := c.dbtx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []APIClient
	for rows.Next() {
		var client APIClient
		if err := rows.Scan(
			&client.ID, &client.Tenant, &client.Name, &client.KeyPrefix, &client.KeyHash,
			&client.Status, &client.RequestCount, &client.LastUsedAt, &client.CreatedAt,
		); err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func scanClient(row *sql.Row) (APIClient, error) {
	var client APIClient
	err := row.Scan(
		&client.ID, &client.Tenant, &client.Name, &client.KeyPrefix, &client.KeyHash,
		&client.Status, &client.RequestCount, &client.LastUsedAt, &client.CreatedAt,
	)
	return client, err
}
