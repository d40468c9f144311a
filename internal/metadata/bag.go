// Package metadata implements the per-record metadata bag: an open JSON
// document with a typed view over the recognized enrichment fields.
//
// The bag is schema-less on the wire. Recognized keys get typed accessors and
// a derived processing state; everything else is carried verbatim so future
// enrichment kinds can add fields without breaking older readers.
package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

// State is the processing state of a record, derived from the two
// independent completion predicates.
type State int

const (
	Unprocessed State = iota
	OCRDone
	FeaturesDone
	Both
)

func (s State) String() string {
	switch s {
	case OCRDone:
		return "ocr_done"
	case FeaturesDone:
		return "features_done"
	case Both:
		return "both"
	default:
		return "unprocessed"
	}
}

// OCRResult is the field group written atomically by the OCR job.
type OCRResult struct {
	Text       string
	Timestamp  time.Time
	Confidence float64
	Language   string
}

// FeatureSet is the field group written atomically by the feature-extraction
// job. Vector is the model output, Mean/Std are per-channel statistics and
// Histogram is a max-normalized intensity histogram.
type FeatureSet struct {
	Vector      []float64 `json:"vector"`
	Mean        []float64 `json:"mean"`
	Std         []float64 `json:"std"`
	Histogram   []float64 `json:"histogram"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// Bag is a decoded metadata document.
type Bag struct {
	fields map[string]json.RawMessage
}

// Decode parses raw metadata bytes into a Bag. Nil or empty input yields an
// empty bag; bytes that are present but undecodable fail with
// ErrCorruptMetadata rather than silently resetting to empty.
func Decode(raw []byte) (*Bag, error) {
	b := &Bag{fields: make(map[string]json.RawMessage)}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b.fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ipipeline.ErrCorruptMetadata, err)
	}
	return b, nil
}

// Encode serializes the bag back to JSON bytes.
func (b *Bag) Encode() ([]byte, error) {
	return json.Marshal(b.fields)
}

// Has reports whether the bag contains the given key. Presence is distinct
// from the zero value: an absent ocrText means OCR never ran, an empty
// string means it ran and found no text.
func (b *Bag) Has(key string) bool {
	_, ok := b.fields[key]
	return ok
}

// Raw returns the verbatim value stored under key.
func (b *Bag) Raw(key string) (json.RawMessage, bool) {
	v, ok := b.fields[key]
	return v, ok
}

func (b *Bag) stringField(key string) string {
	var s string
	if raw, ok := b.fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// OriginalName returns the upload-time file name, if recorded.
func (b *Bag) OriginalName() string {
	return b.stringField(pipeline.FieldOriginalName)
}

// Size returns the upload-time byte size, if recorded.
func (b *Bag) Size() int64 {
	var n int64
	if raw, ok := b.fields[pipeline.FieldSize]; ok {
		_ = json.Unmarshal(raw, &n)
	}
	return n
}

// ContentType returns the upload-time MIME type, if recorded.
func (b *Bag) ContentType() string {
	return b.stringField(pipeline.FieldType)
}

// OCR returns the OCR field group. ok is the "OCR complete" predicate:
// both ocrText (possibly empty) and ocrTimestamp are present.
func (b *Bag) OCR() (OCRResult, bool) {
	if !b.Has(pipeline.FieldOCRText) || !b.Has(pipeline.FieldOCRTimestamp) {
		return OCRResult{}, false
	}
	res := OCRResult{
		Text:     b.stringField(pipeline.FieldOCRText),
		Language: b.stringField(pipeline.FieldOCRLanguage),
	}
	if raw, ok := b.fields[pipeline.FieldOCRTimestamp]; ok {
		_ = json.Unmarshal(raw, &res.Timestamp)
	}
	if raw, ok := b.fields[pipeline.FieldOCRConfidence]; ok {
		_ = json.Unmarshal(raw, &res.Confidence)
	}
	return res, true
}

// Features returns the feature field group. ok is the "feature-extraction
// complete" predicate: both features and featureTimestamp are present.
func (b *Bag) Features() (FeatureSet, bool) {
	if !b.Has(pipeline.FieldFeatures) || !b.Has(pipeline.FieldFeatureStamp) {
		return FeatureSet{}, false
	}
	var fs FeatureSet
	if raw, ok := b.fields[pipeline.FieldFeatures]; ok {
		_ = json.Unmarshal(raw, &fs)
	}
	return fs, true
}

// State derives the processing state from the completion predicates.
func (b *Bag) State() State {
	_, ocr := b.OCR()
	_, feat := b.Features()
	switch {
	case ocr && feat:
		return Both
	case ocr:
		return OCRDone
	case feat:
		return FeaturesDone
	default:
		return Unprocessed
	}
}
