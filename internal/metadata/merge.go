package metadata

import (
	"encoding/json"
	"time"

	"github.com/imagevault/pipeline/pkg/pipeline"
)

// Patch is a set of metadata fields to merge into a bag. Patches are built
// through the typed constructors so a job can only write the fields it owns.
type Patch map[string]json.RawMessage

func mustRaw(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// All patch values are plain strings, numbers and slices; marshal
		// cannot fail for them.
		panic(err)
	}
	return raw
}

// UploadPatch builds the set-once upload fields.
func UploadPatch(originalName string, size int64, contentType string) Patch {
	return Patch{
		pipeline.FieldOriginalName: mustRaw(originalName),
		pipeline.FieldSize:         mustRaw(size),
		pipeline.FieldType:         mustRaw(contentType),
	}
}

// OCRPatch builds the OCR field group. Text may be empty: that records a run
// that found no text, which is distinct from never having run.
func OCRPatch(res OCRResult) Patch {
	return Patch{
		pipeline.FieldOCRText:       mustRaw(res.Text),
		pipeline.FieldOCRTimestamp:  mustRaw(res.Timestamp),
		pipeline.FieldOCRConfidence: mustRaw(res.Confidence),
		pipeline.FieldOCRLanguage:   mustRaw(res.Language),
	}
}

// FeaturePatch builds the feature-extraction field group.
func FeaturePatch(fs FeatureSet, at time.Time) Patch {
	return Patch{
		pipeline.FieldFeatures:     mustRaw(fs),
		pipeline.FieldFeatureStamp: mustRaw(at),
	}
}

// Merge shallow-merges patch keys over the existing bag bytes and re-encodes.
// Patch keys win per-key; every existing key not named by the patch is
// preserved verbatim, recognized or not. Existing bytes that fail to decode
// abort the merge with ErrCorruptMetadata.
func Merge(existing []byte, p Patch) ([]byte, error) {
	bag, err := Decode(existing)
	if err != nil {
		return nil, err
	}
	for k, v := range p {
		bag.fields[k] = v
	}
	return bag.Encode()
}
