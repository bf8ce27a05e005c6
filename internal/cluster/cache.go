package cluster

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"fibermap/core-go/internal/scene"
)

// cacheEntry holds the last grouping. Groups are stored by id and re-resolved against the
// caller's nodes on every hit.
type cacheEntry struct {
	fingerprint uint64
	zoom        float64
	at          time.Time
	groups      [][]string
}

// fingerprint hashes the ids of nodes already sorted by id, so any membership change yields a
// different value.
func fingerprint(sorted []*scene.RenderNode) uint64 {
	d := xxhash.New()
	for _, n := range sorted {
		_, _ = d.WriteString(n.ID)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
