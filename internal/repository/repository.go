// Package repository adapts element stores to the map engine. The engine never writes
// through a repository; it only loads snapshots and follows change notifications.
package repository

import (
	"context"
	"errors"

	"fibermap/core-go/internal/model"
)

var ErrUnavailable = errors.New("element repository unavailable")

// Repository is the read side of an element store.
type Repository interface {
	Elements(ctx context.Context) ([]model.NetworkElement, error)
	Connections(ctx context.Context) ([]model.NetworkConnection, error)
	// Watch blocks, calling fn for every change until ctx is done or the feed fails.
	Watch(ctx context.Context, fn func(model.ElementEvent)) error
}
