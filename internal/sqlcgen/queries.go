package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// ElementChangesChannel is the LISTEN/NOTIFY channel fed by the network_elements trigger.
// Payloads are JSON objects {"op": "INSERT|UPDATE|DELETE", "id": "<uuid>"}.
const ElementChangesChannel = "network_element_changes"

const getElement = `-- name: GetElement :one
SELECT e.id,
       e.element_type,
       e.status,
       e.lat,
       e.lng,
       e.alt,
       COALESCE(e.metadata, '{}'::jsonb),
       e.name,
       e.description,
       e.updated_at
FROM network_elements e
WHERE e.id = $1::uuid
`

func (q *Queries) GetElement(ctx context.Context, id string) (NetworkElement, error) {
	row := q.db.QueryRow(ctx, getElement, id)
	var i NetworkElement
	err := row.Scan(&i.ID, &i.Type, &i.Status, &i.Lat, &i.Lng, &i.Alt, &i.Metadata, &i.Name, &i.Description, &i.UpdatedAt)
	return i, err
}

const listElements = `-- name: ListElements :many
SELECT e.id,
       e.element_type,
       e.status,
       e.lat,
       e.lng,
       e.alt,
       COALESCE(e.metadata, '{}'::jsonb),
       e.name,
       e.description,
       e.updated_at
FROM network_elements e
ORDER BY e.id
`

func (q *Queries) ListElements(ctx context.Context) ([]NetworkElement, error) {
	rows, err := q.db.Query(ctx, listElements)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NetworkElement
	for rows.Next() {
		var i NetworkElement
		if err := rows.Scan(&i.ID, &i.Type, &i.Status, &i.Lat, &i.Lng, &i.Alt, &i.Metadata, &i.Name, &i.Description, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listElementsInBounds = `-- name: ListElementsInBounds :many
SELECT e.id,
       e.element_type,
       e.status,
       e.lat,
       e.lng,
       e.alt,
       COALESCE(e.metadata, '{}'::jsonb),
       e.name,
       e.description,
       e.updated_at
FROM network_elements e
WHERE e.lat BETWEEN $1 AND $2
  AND e.lng BETWEEN $3 AND $4
ORDER BY e.id
LIMIT $5
`

type ListElementsInBoundsParams struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
	Limit  int32
}

func (q *Queries) ListElementsInBounds(ctx context.Context, arg ListElementsInBoundsParams) ([]NetworkElement, error) {
	rows, err := q.db.Query(ctx, listElementsInBounds, arg.MinLat, arg.MaxLat, arg.MinLng, arg.MaxLng, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NetworkElement
	for rows.Next() {
		var i NetworkElement
		if err := rows.Scan(&i.ID, &i.Type, &i.Status, &i.Lat, &i.Lng, &i.Alt, &i.Metadata, &i.Name, &i.Description, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listConnections = `-- name: ListConnections :many
SELECT c.id,
       c.source_id,
       c.target_id,
       c.connection_type,
       c.status,
       c.capacity,
       c.weight
FROM network_connections c
ORDER BY c.id
`

func (q *Queries) ListConnections(ctx context.Context) ([]NetworkConnection, error) {
	rows, err := q.db.Query(ctx, listConnections)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NetworkConnection
	for rows.Next() {
		var i NetworkConnection
		if err := rows.Scan(&i.ID, &i.SourceID, &i.TargetID, &i.Type, &i.Status, &i.Capacity, &i.Weight); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
