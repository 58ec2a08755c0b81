package tracker

import (
	"github.com/marketscout/crawler/internal/pipeline"
)

// richBonus is the maximum multiplier a long text field or a well-populated
// list field can earn over its base weight.
const richBonus = 1.2

// DefaultFieldWeights is the expected-field table used when configuration
// supplies none. The weights sum to 1.0.
var DefaultFieldWeights = map[string]float64{
	"title":       0.20,
	"price":       0.25,
	"description": 0.15,
	"locality":    0.10,
	"attributes":  0.10,
	"images":      0.10,
	"contact":     0.10,
}

// Score computes the data-quality score of an extracted record as a weighted
// completeness metric, clamped to 1.0. Absent or empty fields contribute
// nothing; rich text and list fields earn up to richBonus times their weight.
func Score(record pipeline.Record, weights map[string]float64) float64 {
	if len(record) == 0 {
		return 0
	}
	if len(weights) == 0 {
		weights = DefaultFieldWeights
	}
	var score float64
	for field, weight := range weights {
		score += weight * richness(record[field])
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func richness(value any) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case string:
		switch {
		case v == "":
			return 0
		case len(v) >= 120:
			return richBonus
		default:
			return 1
		}
	case []string:
		return listRichness(len(v))
	case []any:
		return listRichness(len(v))
	case map[string]any:
		return listRichness(len(v))
	default:
		// numbers, bools, structured values: present is present
		return 1
	}
}

func listRichness(n int) float64 {
	if n == 0 {
		return 0
	}
	r := 1 + 0.05*float64(n-1)
	if r > richBonus {
		r = richBonus
	}
	return r
}
