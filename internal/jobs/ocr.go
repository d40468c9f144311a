package jobs

import (
	"context"
	"time"

	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/internal/vision"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

// TextDetector is the OCR vendor boundary. Satisfied by vision.Client.
type TextDetector interface {
	DetectText(ctx context.Context, imageBytes []byte) (vision.Result, error)
}

// OCRJob runs text detection and writes the ocrText field group.
type OCRJob struct {
	fetcher  Fetcher
	detector TextDetector
	now      func() time.Time
}

// NewOCRJob creates the OCR job kind.
func NewOCRJob(fetcher Fetcher, detector TextDetector) *OCRJob {
	return &OCRJob{
		fetcher:  fetcher,
		detector: detector,
		now:      time.Now,
	}
}

// SetClock overrides the job's clock. Test hook.
func (j *OCRJob) SetClock(now func() time.Time) {
	j.now = now
}

// Kind implements Job.
func (j *OCRJob) Kind() string {
	return pipeline.JobOCR
}

// Run implements Job. An empty detected text still produces a complete patch:
// the run happened, it just found nothing.
func (j *OCRJob) Run(ctx context.Context, rec store.Record) (metadata.Patch, error) {
	imageBytes, err := j.fetcher.Fetch(ctx, rec.BlobRef)
	if err != nil {
		return nil, err
	}

	res, err := j.detector.DetectText(ctx, imageBytes)
	if err != nil {
		return nil, err
	}

	return metadata.OCRPatch(metadata.OCRResult{
		Text:       res.Text,
		Timestamp:  j.now().UTC(),
		Confidence: res.Confidence,
		Language:   res.Language,
	}), nil
}
