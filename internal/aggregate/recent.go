package aggregate

import (
	"cmp"
	"net/http"
	"slices"
	"time"

	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

// RecentTree is a tree with its farm name.
type RecentTree struct {
	model.Tree
	FarmName string `json:"farm_name"`
}

// RecentImage is an image with its tree and farm and its latest verdict.
type RecentImage struct {
	ID          string         `json:"id"`
	TreeID      string         `json:"tree_id"`
	TreeCode    string         `json:"tree_code"`
	FarmName    string         `json:"farm_name"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	ContentType string         `json:"content_type"`
	Data        []byte         `json:"data"`
	Result      Classification `json:"result"`
}

// newestFirst orders by time descending, then id ascending.
func newestFirst(ta, tb time.Time, ida, idb string) int {
	return cmp.Or(tb.Compare(ta), cmp.Compare(ida, idb))
}

// RecentTrees returns the n most recently added active trees of userID.
// n <= 0 returns all of them.
func RecentTrees(snap store.Snapshot, userID string, n int) []RecentTree {
	v := newView(snap, userID)
	out := []RecentTree{}
	for _, t := range v.trees() {
		out = append(out, RecentTree{Tree: t, FarmName: v.farmByID[t.FarmID].Name})
	}
	slices.SortFunc(out, func(a, b RecentTree) int {
		return newestFirst(a.AddedAt, b.AddedAt, a.ID, b.ID)
	})
	return limit(out, n)
}

// RecentImages returns the n most recently uploaded active images of userID.
// n <= 0 returns all of them.
func RecentImages(snap store.Snapshot, userID string, n int) []RecentImage {
	v := newView(snap, userID)
	out := []RecentImage{}
	for _, t := range v.trees() {
		farm := v.farmByID[t.FarmID].Name
		for _, img := range v.imagesByTree[t.ID] {
			ri := RecentImage{
				ID:         img.ID,
				TreeID:     t.ID,
				TreeCode:   t.Code,
				FarmName:   farm,
				UploadedAt: img.UploadedAt,
				Data:       img.Data,
				Result:     v.classify(img.ID),
			}
			if len(img.Data) > 0 {
				ri.ContentType = http.DetectContentType(img.Data)
			}
			out = append(out, ri)
		}
	}
	slices.SortFunc(out, func(a, b RecentImage) int {
		return newestFirst(a.UploadedAt, b.UploadedAt, a.ID, b.ID)
	})
	return limit(out, n)
}

func limit[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
