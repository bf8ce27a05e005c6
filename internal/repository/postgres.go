package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/sqlcgen"
)

// Queries is the subset of sqlcgen.Queries the Postgres repository reads through.
type Queries interface {
	ListElements(ctx context.Context) ([]sqlcgen.NetworkElement, error)
	ListConnections(ctx context.Context) ([]sqlcgen.NetworkConnection, error)
	GetElement(ctx context.Context, id string) (sqlcgen.NetworkElement, error)
}

// Listener delivers NOTIFY payloads for a channel; db.Pool implements it.
type Listener interface {
	Listen(ctx context.Context, channel string, fn func(payload string) error) error
}

type Postgres struct {
	log      zerolog.Logger
	queries  Queries
	listener Listener
}

func NewPostgres(log zerolog.Logger, queries Queries, listener Listener) *Postgres {
	return &Postgres{log: log, queries: queries, listener: listener}
}

func (p *Postgres) Elements(ctx context.Context) ([]model.NetworkElement, error) {
	if p.queries == nil {
		return nil, ErrUnavailable
	}
	rows, err := p.queries.ListElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	out := make([]model.NetworkElement, 0, len(rows))
	for _, r := range rows {
		out = append(out, toElement(r))
	}
	return out, nil
}

func (p *Postgres) Connections(ctx context.Context) ([]model.NetworkConnection, error) {
	if p.queries == nil {
		return nil, ErrUnavailable
	}
	rows, err := p.queries.ListConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	out := make([]model.NetworkConnection, 0, len(rows))
	for _, r := range rows {
		out = append(out, toConnection(r))
	}
	return out, nil
}

type changePayload struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

func (p *Postgres) Watch(ctx context.Context, fn func(model.ElementEvent)) error {
	if p.listener == nil || p.queries == nil {
		return ErrUnavailable
	}
	return p.listener.Listen(ctx, sqlcgen.ElementChangesChannel, func(payload string) error {
		ev, ok, err := p.resolve(ctx, payload)
		if err != nil {
			return err
		}
		if ok {
			fn(ev)
		}
		return nil
	})
}

// resolve turns a notification payload into an event. Malformed payloads are logged
// and skipped; lookup failures end the watch so the caller can resync.
func (p *Postgres) resolve(ctx context.Context, payload string) (model.ElementEvent, bool, error) {
	var msg changePayload
	if err := json.Unmarshal([]byte(payload), &msg); err != nil || strings.TrimSpace(msg.ID) == "" {
		p.log.Warn().Str("payload", payload).Msg("ignoring malformed element change notification")
		return model.ElementEvent{}, false, nil
	}

	switch strings.ToUpper(msg.Op) {
	case "DELETE":
		return model.ElementEvent{Kind: model.ElementDeleted, Element: model.NetworkElement{ID: msg.ID}}, true, nil
	case "INSERT", "UPDATE":
	default:
		p.log.Warn().Str("op", msg.Op).Str("element_id", msg.ID).Msg("ignoring unknown element change op")
		return model.ElementEvent{}, false, nil
	}

	row, err := p.queries.GetElement(ctx, msg.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Deleted between the notification and the read.
		return model.ElementEvent{Kind: model.ElementDeleted, Element: model.NetworkElement{ID: msg.ID}}, true, nil
	}
	if err != nil {
		return model.ElementEvent{}, false, fmt.Errorf("get element %s: %w", msg.ID, err)
	}

	kind := model.ElementUpdated
	if strings.EqualFold(msg.Op, "INSERT") {
		kind = model.ElementCreated
	}
	return model.ElementEvent{Kind: kind, Element: toElement(row)}, true, nil
}

func toElement(r sqlcgen.NetworkElement) model.NetworkElement {
	e := model.NetworkElement{
		ID:          r.ID,
		Type:        model.ParseElementType(r.Type),
		Status:      model.ParseElementStatus(r.Status),
		Metadata:    r.Metadata,
		Name:        r.Name,
		Description: r.Description,
	}
	if r.Lat != nil && r.Lng != nil {
		e.Position = &model.GeoPosition{Lat: *r.Lat, Lng: *r.Lng, Alt: r.Alt}
	}
	return e
}

func toConnection(r sqlcgen.NetworkConnection) model.NetworkConnection {
	return model.NetworkConnection{
		ID:       r.ID,
		SourceID: r.SourceID,
		TargetID: r.TargetID,
		Type:     model.ParseConnectionType(r.Type),
		Status:   model.ParseElementStatus(r.Status),
		Capacity: r.Capacity,
		Weight:   r.Weight,
	}
}
