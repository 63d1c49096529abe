package scan

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/httpclient"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

const endpoint = "https://classifier.test/api/scan"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	hc := httpclient.New(&cfg)
	transport := httpmock.NewMockTransport()
	hc.HTTPClient().Transport = transport
	c, err := NewClient(hc, endpoint)
	require.NoError(t, err)
	return c, transport
}

func scanReq() model.ScanRequest {
	return model.ScanRequest{UserID: "u1", TreeCode: "A-1", ImageURL: "https://img.test/a.jpg"}
}

const okBody = `{"result":{
	"diseases":[{"name":"Healthy","likelihood":0.7},{"name":"Scab","likelihood":0.3}],
	"analyzed_image":"YW5ub3RhdGVk",
	"original_image":"b3JpZ2luYWw=",
	"bounding_boxes":[{"label":"Scab","x":1,"y":2,"width":3,"height":4,"confidence":0.3}]}}`

func TestClientProcess(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	var got model.ScanRequest
	transport.RegisterResponder(http.MethodPost, endpoint, func(r *http.Request) (*http.Response, error) {
		if err := decodeJSON(r, &got); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, okBody), nil
	})

	res, err := c.Process(t.Context(), scanReq())
	require.NoError(t, err)
	assert.Equal(t, scanReq(), got)
	require.Len(t, res.Diseases, 2)
	assert.Equal(t, "Scab", res.Diseases[1].Name)
	assert.Equal(t, []byte("annotated"), res.AnalyzedImage)
	assert.Equal(t, []byte("original"), res.OriginalImage)
	require.Len(t, res.BoundingBoxes, 1)
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
		message  string
	}{
		{"error body", http.StatusBadRequest, `{"error":"tree not found"}`, errors.CategoryValidation, "tree not found"},
		{"server error", http.StatusBadGateway, `{"error":"upstream down"}`, errors.CategoryNetwork, "upstream down"},
		{"no result", http.StatusOK, `{}`, errors.CategoryValidation, "classifier returned no result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, transport := newMockedClient(t)
			transport.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(tt.status, tt.body))

			_, err := c.Process(t.Context(), scanReq())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

type fakeQueue struct {
	items []model.PendingItem
}

func (q *fakeQueue) Enqueue(_ context.Context, req model.ScanRequest) (model.PendingItem, error) {
	item := model.PendingItem{ID: "p1", UserID: req.UserID, TreeCode: req.TreeCode, ImageURL: req.ImageURL, Status: model.PendingQueued}
	q.items = append(q.items, item)
	return item, nil
}

func TestScanQueuesOnFailure(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(assert.AnError))
	q := &fakeQueue{}
	svc := NewService(c, q, store.NewMap[model.Tree](model.TableTrees), Writers{}, time.Second)

	out, err := svc.Scan(t.Context(), scanReq())
	require.NoError(t, err)
	assert.Nil(t, out.Result)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "A-1", out.Pending.TreeCode)
	assert.Len(t, q.items, 1)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "a failed scan is attempted once")
}

type blockingProcessor struct{}

func (blockingProcessor) Process(ctx context.Context, _ model.ScanRequest) (model.ScanResult, error) {
	<-ctx.Done()
	return model.ScanResult{}, ctx.Err()
}

type ctxQueue struct {
	fakeQueue
	ctx context.Context
}

func (q *ctxQueue) Enqueue(ctx context.Context, req model.ScanRequest) (model.PendingItem, error) {
	q.ctx = ctx
	return q.fakeQueue.Enqueue(ctx, req)
}

func TestScanQueuesOnTimeout(t *testing.T) {
	t.Parallel()

	q := &ctxQueue{}
	svc := NewService(blockingProcessor{}, q, store.NewMap[model.Tree](model.TableTrees), Writers{}, 50*time.Millisecond)

	start := time.Now()
	out, err := svc.Scan(t.Context(), scanReq())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, out.Result)
	require.NotNil(t, out.Pending)
	assert.Equal(t, model.PendingQueued, out.Pending.Status)
	require.Len(t, q.items, 1)

	// the enqueue must not inherit the expired classifier deadline
	require.NotNil(t, q.ctx)
	require.NoError(t, q.ctx.Err())
	_, hasDeadline := q.ctx.Deadline()
	assert.False(t, hasDeadline)
}

func TestScanReturnsResult(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, okBody))
	q := &fakeQueue{}
	svc := NewService(c, q, store.NewMap[model.Tree](model.TableTrees), Writers{}, time.Second)

	out, err := svc.Scan(t.Context(), scanReq())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Nil(t, out.Pending)
	assert.Empty(t, q.items)
}

func TestScanRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	q := &fakeQueue{}
	svc := NewService(c, q, store.NewMap[model.Tree](model.TableTrees), Writers{}, time.Second)

	_, err := svc.Scan(t.Context(), model.ScanRequest{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, q.items)
	assert.Zero(t, transport.GetTotalCallCount())
}

type recorder[T model.Record] struct {
	mu   sync.Mutex
	recs []T
}

func (r *recorder[T]) Create(_ context.Context, rec T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return rec, nil
}

func TestSaveCreatesEntities(t *testing.T) {
	t.Parallel()

	trees := store.NewMap[model.Tree](model.TableTrees)
	trees.Set(model.Tree{ID: "t-other", Code: "A-1", UserID: "u2", Status: model.StatusActive})
	trees.Set(model.Tree{ID: "t1", Code: "A-1", UserID: "u1", Status: model.StatusActive})
	trees.Set(model.Tree{ID: "t-trashed", Code: "A-1", UserID: "u1", Status: model.StatusTrashed})

	images := &recorder[model.Image]{}
	analyses := &recorder[model.Analysis]{}
	annotated := &recorder[model.AnalyzedImage]{}
	labels := &recorder[model.DiseaseIdentified]{}
	svc := NewService(nil, nil, trees, Writers{
		Images:             images,
		Analyses:           analyses,
		AnalyzedImages:     annotated,
		DiseasesIdentified: labels,
	}, 0)

	res := model.ScanResult{
		Diseases:      []model.ScanDisease{{Name: "Healthy", Likelihood: 0.7}, {Name: "Scab", Likelihood: 0.3}},
		AnalyzedImage: []byte("annotated"),
		OriginalImage: []byte("original"),
	}
	require.NoError(t, svc.Save(t.Context(), scanReq(), res))

	require.Len(t, images.recs, 1)
	img := images.recs[0]
	assert.Equal(t, "t1", img.TreeID)
	assert.Equal(t, model.StatusActive, img.Status)
	assert.Equal(t, []byte("original"), img.Data)

	require.Len(t, analyses.recs, 1)
	assert.Equal(t, img.ID, analyses.recs[0].ImageID)
	require.Len(t, annotated.recs, 1)
	assert.Equal(t, analyses.recs[0].ID, annotated.recs[0].AnalysisID)
	require.Len(t, labels.recs, 2)
	for _, l := range labels.recs {
		assert.Equal(t, analyses.recs[0].ID, l.AnalysisID)
		assert.NotEmpty(t, l.ID)
	}
}

func TestSaveIgnoresTreesOwnedByNobody(t *testing.T) {
	t.Parallel()

	trees := store.NewMap[model.Tree](model.TableTrees)
	trees.Set(model.Tree{ID: "t-orphan", Code: "A-1", Status: model.StatusActive})
	images := &recorder[model.Image]{}
	svc := NewService(nil, nil, trees, Writers{Images: images}, 0)

	err := svc.Save(t.Context(), scanReq(), model.ScanResult{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, images.recs)
}

func TestSaveUnknownTree(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, store.NewMap[model.Tree](model.TableTrees), Writers{}, 0)
	err := svc.Save(t.Context(), scanReq(), model.ScanResult{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
