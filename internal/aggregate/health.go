package aggregate

import (
	"cmp"
	"slices"

	"github.com/leafscan/leafscan/internal/store"
)

// DiseaseCount is one histogram bucket.
type DiseaseCount struct {
	Name  string `json:"name"`
	Trees int    `json:"trees"`
}

// FarmHealth summarizes the latest classification of every active tree of a farm.
type FarmHealth struct {
	FarmID     string         `json:"farm_id"`
	FarmName   string         `json:"farm_name"`
	Trees      int            `json:"trees"`
	Classified int            `json:"classified"`
	Healthy    int            `json:"healthy"`
	Diseased   int            `json:"diseased"`
	Health     float64        `json:"health"` // percent of classified trees that are healthy
	Diseases   []DiseaseCount `json:"diseases"`
}

// FarmHealthReport computes FarmHealth for every active farm of userID,
// ordered by farm name then id.
func FarmHealthReport(snap store.Snapshot, userID string) []FarmHealth {
	v := newView(snap, userID)
	out := make([]FarmHealth, 0, len(v.farms))
	for _, f := range v.farms {
		fh := FarmHealth{FarmID: f.ID, FarmName: f.Name, Diseases: []DiseaseCount{}}
		hist := make(map[string]int)
		for _, t := range v.treesByFarm[f.ID] {
			fh.Trees++
			img, ok := v.latestImage(t.ID)
			if !ok {
				continue
			}
			c := v.classify(img.ID)
			switch c.Verdict {
			case Healthy:
				fh.Classified++
				fh.Healthy++
			case Diseased:
				fh.Classified++
				fh.Diseased++
				if c.Dominant != "" {
					hist[c.Dominant]++
				}
			}
		}
		fh.Health = percent(fh.Healthy, fh.Classified)
		fh.Diseases = histogram(hist)
		out = append(out, fh)
	}
	return out
}

// OverallHealth is the healthy share of classified trees across farms.
func OverallHealth(farms []FarmHealth) float64 {
	var healthy, classified int
	for _, f := range farms {
		healthy += f.Healthy
		classified += f.Classified
	}
	return percent(healthy, classified)
}

func histogram(counts map[string]int) []DiseaseCount {
	out := make([]DiseaseCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, DiseaseCount{Name: name, Trees: n})
	}
	slices.SortFunc(out, func(a, b DiseaseCount) int {
		return cmp.Or(cmp.Compare(b.Trees, a.Trees), cmp.Compare(a.Name, b.Name))
	})
	return out
}
