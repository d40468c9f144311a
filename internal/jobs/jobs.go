// Package jobs dispatches enrichment jobs: fetch blob bytes, call the
// external processor, merge the result into the record's metadata.
package jobs

import (
	"context"

	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/store"
)

// Fetcher resolves a record's blob reference to readable bytes.
type Fetcher interface {
	Fetch(ctx context.Context, objectName string) ([]byte, error)
}

// Job is one enrichment kind. Run produces the metadata patch containing
// only the fields this kind owns plus its completion timestamp; the runner
// merge-persists it.
type Job interface {
	// Kind returns the job kind constant.
	Kind() string

	// Run executes the job against the record and returns the patch to merge.
	Run(ctx context.Context, rec store.Record) (metadata.Patch, error)
}
