package matrix

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler centers each column on its mean and divides by its
// population standard deviation. Constant columns keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit computes per-column mean and scale.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("empty data")
	}
	nFeatures := len(data[0])
	mean := make([]float64, nFeatures)
	for _, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("ragged row: expected %d features, got %d", nFeatures, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, nFeatures)
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

// Transform returns a scaled copy of data.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, errors.New("scaler not fitted")
	}
	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, len(s.Mean), len(row))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}
