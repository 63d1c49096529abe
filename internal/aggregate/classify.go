// Package aggregate computes the dashboard read models from a store
// snapshot. Every function is pure: the same snapshot and arguments give
// the same output.
package aggregate

import (
	"math"

	"github.com/leafscan/leafscan/internal/model"
)

// Verdict is the outcome of classifying one analysis.
type Verdict int

const (
	Unclassified Verdict = iota
	Healthy
	Diseased
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Diseased:
		return "diseased"
	default:
		return "unclassified"
	}
}

// MarshalText renders the verdict by name in JSON.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Classification is the verdict with the scores it was derived from.
type Classification struct {
	Verdict      Verdict `json:"verdict"`
	Dominant     string  `json:"dominant,omitempty"` // most likely non-healthy label
	HealthyScore float64 `json:"healthy_score"`
	DiseaseScore float64 `json:"disease_score"`
}

// ClassifyAnalysis classifies the labels of one analysis. It is healthy iff
// the summed healthy likelihood exceeds the summed likelihood of every other
// label; no labels means unclassified.
func ClassifyAnalysis(rows []model.DiseaseIdentified) Classification {
	if len(rows) == 0 {
		return Classification{Verdict: Unclassified}
	}
	var c Classification
	var best *model.DiseaseIdentified
	for i := range rows {
		r := &rows[i]
		if r.IsHealthy() {
			c.HealthyScore += r.LikelihoodScore
			continue
		}
		c.DiseaseScore += r.LikelihoodScore
		if best == nil || r.LikelihoodScore > best.LikelihoodScore ||
			(r.LikelihoodScore == best.LikelihoodScore && r.DiseaseName < best.DiseaseName) {
			best = r
		}
	}
	if best != nil {
		c.Dominant = best.DiseaseName
	}
	if c.HealthyScore > c.DiseaseScore {
		c.Verdict = Healthy
	} else {
		c.Verdict = Diseased
	}
	return c
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// percent returns part/whole*100 rounded to one decimal, 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}
