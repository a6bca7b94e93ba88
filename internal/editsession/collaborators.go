// internal/editsession/collaborators.go
package editsession

import (
	"context"
	"time"

	"familymiles/internal/loyalty"
)

// Fetcher reads full snapshots from the backend.
type Fetcher interface {
	ListMembers(ctx context.Context) ([]loyalty.Member, error)
	ListCompanies(ctx context.Context) ([]loyalty.Company, error)
	GlobalLog(ctx context.Context) ([]loyalty.LogEntry, error)
}

// Receipt is the backend's confirmation of a saved diff.
type Receipt struct {
	Version   int
	UpdatedAt time.Time
}

// Persister submits a diff for one program record. baseVersion is the
// version the diff was computed against; implementations return
// ErrVersionConflict when it is stale.
type Persister interface {
	SaveProgram(ctx context.Context, key loyalty.Key, diff loyalty.Patch, baseVersion int) (Receipt, error)
}

// LogSink persists audit entries one at a time. A nil sink means the backend
// records history itself as part of SaveProgram.
type LogSink interface {
	AppendLog(ctx context.Context, entry loyalty.LogEntry) error
}
