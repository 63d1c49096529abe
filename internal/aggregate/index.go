package aggregate

import (
	"cmp"
	"slices"

	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

// view groups the active part of a snapshot by parent id. Only records with
// status active are visible; an empty userID sees every farm.
type view struct {
	farms           []model.Farm
	farmByID        map[string]model.Farm
	treesByFarm     map[string][]model.Tree
	imagesByTree    map[string][]model.Image
	analysesByImage map[string][]model.Analysis
	labelsByAnalyis map[string][]model.DiseaseIdentified
}

func newView(snap store.Snapshot, userID string) *view {
	v := &view{
		farmByID:        make(map[string]model.Farm),
		treesByFarm:     make(map[string][]model.Tree),
		imagesByTree:    make(map[string][]model.Image),
		analysesByImage: make(map[string][]model.Analysis),
		labelsByAnalyis: make(map[string][]model.DiseaseIdentified),
	}
	for _, f := range snap.Farms {
		if f.Status != model.StatusActive || (userID != "" && f.UserID != userID) {
			continue
		}
		v.farms = append(v.farms, f)
		v.farmByID[f.ID] = f
	}
	slices.SortFunc(v.farms, func(a, b model.Farm) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})

	for _, t := range snap.Trees {
		if t.Status != model.StatusActive {
			continue
		}
		if _, ok := v.farmByID[t.FarmID]; ok {
			v.treesByFarm[t.FarmID] = append(v.treesByFarm[t.FarmID], t)
		}
	}
	for _, trees := range v.treesByFarm {
		slices.SortFunc(trees, func(a, b model.Tree) int { return cmp.Compare(a.ID, b.ID) })
	}

	for _, img := range snap.Images {
		if img.Status == model.StatusActive {
			v.imagesByTree[img.TreeID] = append(v.imagesByTree[img.TreeID], img)
		}
	}
	for _, a := range snap.Analyses {
		if a.Status == model.StatusActive || a.Status == 0 {
			v.analysesByImage[a.ImageID] = append(v.analysesByImage[a.ImageID], a)
		}
	}
	for _, d := range snap.DiseasesIdentified {
		v.labelsByAnalyis[d.AnalysisID] = append(v.labelsByAnalyis[d.AnalysisID], d)
	}
	for id, rows := range v.labelsByAnalyis {
		slices.SortFunc(rows, func(a, b model.DiseaseIdentified) int { return cmp.Compare(a.ID, b.ID) })
		v.labelsByAnalyis[id] = rows
	}
	return v
}

// trees returns the active trees of every visible farm.
func (v *view) trees() []model.Tree {
	var out []model.Tree
	for _, f := range v.farms {
		out = append(out, v.treesByFarm[f.ID]...)
	}
	return out
}

// latestImage returns the most recently uploaded active image of a tree.
// Ties on upload time go to the greater id.
func (v *view) latestImage(treeID string) (model.Image, bool) {
	var best model.Image
	found := false
	for _, img := range v.imagesByTree[treeID] {
		if !found || img.UploadedAt.After(best.UploadedAt) ||
			(img.UploadedAt.Equal(best.UploadedAt) && img.ID > best.ID) {
			best, found = img, true
		}
	}
	return best, found
}

// classify returns the classification of the latest analysis of an image.
func (v *view) classify(imageID string) Classification {
	var latest *model.Analysis
	for i, a := range v.analysesByImage[imageID] {
		if latest == nil || a.AnalyzedAt.After(latest.AnalyzedAt) ||
			(a.AnalyzedAt.Equal(latest.AnalyzedAt) && a.ID > latest.ID) {
			latest = &v.analysesByImage[imageID][i]
		}
	}
	if latest == nil {
		return Classification{Verdict: Unclassified}
	}
	return ClassifyAnalysis(v.labelsByAnalyis[latest.ID])
}
