// Package features computes visual feature vectors for stored images:
// a model-inferred vector plus locally computed channel statistics and an
// intensity histogram.
package features

import (
	"bytes"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
)

// Model input dimensions and output shape.
const (
	InputSize     = 224
	VectorSize    = 1001
	HistogramBins = 256
)

// Tensor is a decoded image resized to the model input size, normalized to
// [0, 1]. Pixels is row-major RGB.
type Tensor struct {
	Pixels []float64
}

// Preprocess decodes the image bytes, resizes to the model input size with
// bilinear resampling and normalizes samples to [0, 1].
func Preprocess(imageBytes []byte) (*Tensor, error) {
	img, err := imaging.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Linear)

	pixels := make([]float64, 0, InputSize*InputSize*3)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			c := resized.NRGBAAt(x, y)
			pixels = append(pixels,
				float64(c.R)/255.0,
				float64(c.G)/255.0,
				float64(c.B)/255.0,
			)
		}
	}
	return &Tensor{Pixels: pixels}, nil
}

// ChannelMean returns the per-channel (R, G, B) mean.
func (t *Tensor) ChannelMean() []float64 {
	mean := make([]float64, 3)
	n := len(t.Pixels) / 3
	for i, v := range t.Pixels {
		mean[i%3] += v
	}
	for c := range mean {
		mean[c] /= float64(n)
	}
	return mean
}

// ChannelStd returns the per-channel population standard deviation.
func (t *Tensor) ChannelStd() []float64 {
	mean := t.ChannelMean()
	variance := make([]float64, 3)
	n := len(t.Pixels) / 3
	for i, v := range t.Pixels {
		d := v - mean[i%3]
		variance[i%3] += d * d
	}
	std := make([]float64, 3)
	for c := range variance {
		std[c] = math.Sqrt(variance[c] / float64(n))
	}
	return std
}

// Histogram returns a 256-bin histogram over all normalized samples, with
// each bin divided by the largest bin so the maximum value is 1.0.
func (t *Tensor) Histogram() []float64 {
	counts := make([]int, HistogramBins)
	for _, v := range t.Pixels {
		bin := int(v * 255)
		if bin > HistogramBins-1 {
			bin = HistogramBins - 1
		}
		counts[bin]++
	}

	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}

	hist := make([]float64, HistogramBins)
	if max == 0 {
		return hist
	}
	for i, c := range counts {
		hist[i] = float64(c) / float64(max)
	}
	return hist
}
