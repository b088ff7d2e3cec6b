package seedstream

import (
	"fmt"
	"math"
)

const (
	biasThreshold    = 0.9
	entropyThreshold = 0.9
)

// QualityReport scores a stream sample for statistical randomness.
// Both scores are normalized to [0,1]; higher is better.
type QualityReport struct {
	BiasScore    float64
	EntropyScore float64
	Passed       bool
}

// ValidateQuality draws sampleSize bytes from the stream and scores them.
// The report is a pure function of the sampled bytes, so identical generator
// state yields an identical report. Note that sampling advances the stream.
func ValidateQuality(s *Stream, sampleSize int) (QualityReport, error) {
	if s == nil {
		return QualityReport{}, ErrStreamRequired
	}
	if sampleSize <= 0 {
		return QualityReport{}, fmt.Errorf("%w: sample size %d", ErrInvalidLength, sampleSize)
	}
	sample, err := s.GetRandomBytes(sampleSize)
	if err != nil {
		return QualityReport{}, err
	}
	return scoreSample(sample), nil
}

func scoreSample(sample []byte) QualityReport {
	var counts [256]int
	for _, b := range sample {
		counts[b]++
	}

	// Bias: mean absolute deviation of byte frequencies from uniform,
	// normalized so a perfectly uniform sample scores 1.
	expected := float64(len(sample)) / 256.0
	var deviation float64
	for _, c := range counts {
		deviation += math.Abs(float64(c) - expected)
	}
	bias := 1.0 - deviation/(2.0*float64(len(sample)))

	// Shannon entropy in bits per byte, normalized by the 8-bit maximum.
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(len(sample))
		entropy -= p * math.Log2(p)
	}
	entropyScore := entropy / 8.0

	return QualityReport{
		BiasScore:    bias,
		EntropyScore: entropyScore,
		Passed:       bias > biasThreshold && entropyScore > entropyThreshold,
	}
}
