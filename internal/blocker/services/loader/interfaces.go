package loader

import (
	"context"
	"time"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// Fetcher downloads a remote list.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DirectoryStore persists the tracker directory payload.
type DirectoryStore interface {
	Persist(data []byte) error
	HasData() bool
}

// FilterListStore persists filter list text.
type FilterListStore interface {
	Persist(kind domain.ListKind, data []byte) error
	HasData() bool
}

// FetchRecorder keeps per-list fetch history.
type FetchRecorder interface {
	RecordSuccess(kind domain.ListKind, url string, at time.Time, size int, digest string) error
	RecordFailure(kind domain.ListKind, url string, at time.Time, cause error) error
}

// Runner is one complete acquisition pass.
type Runner interface {
	Run(ctx context.Context) Result
}
