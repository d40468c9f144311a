package jobs

import (
	"context"
	"time"

	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

// FeatureExtractor is the feature-model boundary. Satisfied by
// features.Extractor, which owns the lazily loaded model handle.
type FeatureExtractor interface {
	Extract(ctx context.Context, imageBytes []byte) (metadata.FeatureSet, error)
}

// FeatureJob runs feature extraction and writes the features field group.
type FeatureJob struct {
	fetcher   Fetcher
	extractor FeatureExtractor
	now       func() time.Time
}

// NewFeatureJob creates the feature-extraction job kind.
func NewFeatureJob(fetcher Fetcher, extractor FeatureExtractor) *FeatureJob {
	return &FeatureJob{
		fetcher:   fetcher,
		extractor: extractor,
		now:       time.Now,
	}
}

// SetClock overrides the job's clock. Test hook.
func (j *FeatureJob) SetClock(now func() time.Time) {
	j.now = now
}

// Kind implements Job.
func (j *FeatureJob) Kind() string {
	return pipeline.JobFeatures
}

// Run implements Job.
func (j *FeatureJob) Run(ctx context.Context, rec store.Record) (metadata.Patch, error) {
	imageBytes, err := j.fetcher.Fetch(ctx, rec.BlobRef)
	if err != nil {
		return nil, err
	}

	fs, err := j.extractor.Extract(ctx, imageBytes)
	if err != nil {
		return nil, err
	}

	return metadata.FeaturePatch(fs, j.now().UTC()), nil
}
