package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imagevault/pipeline/internal/metadata"
	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// Extractor owns the process-lifetime model handle. The model is loaded
// lazily on first use; concurrent first use never loads it twice. Only a
// successful load is memoized: a failed load is retried on the next
// extraction, so a transient model-server outage does not poison the
// process. Inference is stateless after load, so concurrent extractions
// need no further locking.
type Extractor struct {
	runtime  ModelRuntime
	modelURI string

	loadMu sync.Mutex
	loaded bool

	now func() time.Time
}

// NewExtractor creates an extractor over the given runtime. The model is not
// loaded until the first extraction.
func NewExtractor(runtime ModelRuntime, modelURI string) *Extractor {
	return &Extractor{
		runtime:  runtime,
		modelURI: modelURI,
		now:      time.Now,
	}
}

// SetClock overrides the extractor's clock. Test hook.
func (e *Extractor) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Extractor) ensureLoaded(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.loaded {
		return nil
	}
	if err := e.runtime.Load(ctx, e.modelURI); err != nil {
		return err
	}
	e.loaded = true
	return nil
}

// Extract computes the full feature set for the image bytes: the model
// vector plus channel mean, channel std and the normalized histogram.
func (e *Extractor) Extract(ctx context.Context, imageBytes []byte) (metadata.FeatureSet, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return metadata.FeatureSet{}, fmt.Errorf("model load failed: %w", err)
	}

	tensor, err := Preprocess(imageBytes)
	if err != nil {
		return metadata.FeatureSet{}, err
	}

	vector, err := e.runtime.Infer(ctx, tensor)
	if err != nil {
		return metadata.FeatureSet{}, err
	}
	if len(vector) != VectorSize {
		return metadata.FeatureSet{}, &ipipeline.VendorError{
			Status:  0,
			Message: fmt.Sprintf("model returned %d-dim vector, want %d", len(vector), VectorSize),
		}
	}

	return metadata.FeatureSet{
		Vector:      vector,
		Mean:        tensor.ChannelMean(),
		Std:         tensor.ChannelStd(),
		Histogram:   tensor.Histogram(),
		ExtractedAt: e.now().UTC(),
	}, nil
}
