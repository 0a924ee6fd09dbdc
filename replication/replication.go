// Package replication provides the remote sinks a bucket fans its writes
// out to. Replication is best-effort and non-transactional: the bucket
// replicates after the local write succeeded, fire-and-forget, and a
// remote failure is logged, never rolled back.
package replication

import (
	"context"

	"github.com/hupe1980/metrigo/model"
)

// Replicator mirrors a bucket's mutations onto a remote copy. Every
// mutating bucket call is representable as a replayable request against
// an independent bucket instance, so implementations only need the
// add/delete surface.
type Replicator interface {
	// ReplicateStore mirrors a successful local store of obj.
	ReplicateStore(ctx context.Context, obj model.Object) error

	// ReplicateRemove mirrors a successful local removal of id.
	ReplicateRemove(ctx context.Context, id string) error
}
