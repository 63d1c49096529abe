// Package rest talks to a PostgREST-style HTTP backend
// (GET/POST/PATCH on /rest/v1/{table} with column filters in the query).
package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/httpclient"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/remote"
)

const basePath = "/rest/v1/"

// Config selects the backend.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Collection is the remote service for one table.
type Collection[T model.Record] struct {
	client  *httpclient.Client
	baseURL string
	table   string
	log     logger.Logger
}

// NewCollection binds table on client. baseURL is the server root.
func NewCollection[T model.Record](client *httpclient.Client, baseURL, table string) *Collection[T] {
	return &Collection[T]{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		table:   table,
		log:     logger.Global().Module("remote").Module("rest").With(logger.String("table", table)),
	}
}

func (c *Collection[T]) endpoint(q url.Values) string {
	u := c.baseURL + basePath + c.table
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// List returns the records selected by scope, oldest change first.
func (c *Collection[T]) List(ctx context.Context, scope remote.Scope) ([]T, error) {
	if scope.Empty() {
		return []T{}, nil
	}

	q := url.Values{}
	q.Set("select", "*")
	if scope.UserID != "" {
		q.Set("user_id", "eq."+scope.UserID)
	}
	if scope.ParentColumn != "" {
		q.Set(scope.ParentColumn, "in.("+strings.Join(scope.ParentIDs, ",")+")")
	}
	if len(scope.ExcludeStatuses) > 0 {
		codes := make([]string, len(scope.ExcludeStatuses))
		for i, s := range scope.ExcludeStatuses {
			codes[i] = strconv.Itoa(int(s))
		}
		q.Set("status", "not.in.("+strings.Join(codes, ",")+")")
	}
	if !scope.Since.IsZero() {
		q.Set("updated_at", "gt."+scope.Since.UTC().Format(time.RFC3339Nano))
	}
	q.Set("order", "updated_at.asc")

	var out []T
	if err := c.client.DoJSON(ctx, http.MethodGet, c.endpoint(q), nil, nil, &out); err != nil {
		return nil, c.wrap(err, "list", "")
	}
	c.log.Debug("listed records", logger.Int("count", len(out)))
	return out, nil
}

// Create inserts rec and returns the stored representation.
func (c *Collection[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := remote.ValidateID(c.table, rec.RecordID()); err != nil {
		return zero, err
	}
	var out []T
	if err := c.client.DoJSON(ctx, http.MethodPost, c.endpoint(nil), representation(), rec, &out); err != nil {
		return zero, c.wrap(err, "create", rec.RecordID())
	}
	if len(out) == 0 {
		// servers configured with return=minimal echo nothing
		return rec, nil
	}
	return out[0], nil
}

// Update sends only the patch fields.
func (c *Collection[T]) Update(ctx context.Context, patch model.Patch) (T, error) {
	var zero T
	if err := patch.Validate(); err != nil {
		return zero, err
	}
	q := url.Values{}
	q.Set("id", "eq."+patch.ID)

	var out []T
	if err := c.client.DoJSON(ctx, http.MethodPatch, c.endpoint(q), representation(), patch.Fields, &out); err != nil {
		return zero, c.wrap(err, "update", patch.ID)
	}
	if len(out) == 0 {
		return zero, errors.Newf("%s %s not found", c.table, patch.ID).
			Component("remote").
			Category(errors.CategoryNotFound).
			Context("table", c.table).
			Build()
	}
	return out[0], nil
}

func representation() http.Header {
	return http.Header{"Prefer": []string{"return=representation"}}
}

// wrap maps HTTP failures onto the error taxonomy: transport failures and
// 5xx/408/429 are network errors (retryable), 409 is ErrAlreadyExists,
// 404 is not-found and any other 4xx is a validation error.
func (c *Collection[T]) wrap(err error, operation, id string) error {
	code := httpclient.StatusCode(err)
	if code == 0 {
		return errors.New(err).
			Component("remote").
			Context("table", c.table).
			Context("operation", operation).
			Build()
	}

	var category errors.ErrorCategory
	switch {
	case code == http.StatusConflict:
		return errors.New(errors.Join(remote.ErrAlreadyExists, err)).
			Component("remote").
			Category(errors.CategoryConflict).
			Context("table", c.table).
			Context("id", id).
			Build()
	case code == http.StatusNotFound:
		category = errors.CategoryNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		category = errors.CategoryNetwork
	default:
		category = errors.CategoryValidation
	}
	return errors.New(err).
		Component("remote").
		Category(category).
		Context("table", c.table).
		Context("operation", operation).
		Context("status", code).
		Build()
}

// Backend is the REST implementation of remote.Backend.
type Backend struct {
	client             *httpclient.Client
	farms              *Collection[model.Farm]
	trees              *Collection[model.Tree]
	images             *Collection[model.Image]
	analyses           *Collection[model.Analysis]
	analyzedImages     *Collection[model.AnalyzedImage]
	diseasesIdentified *Collection[model.DiseaseIdentified]
	diseases           *Collection[model.Disease]
	feedbacks          *Collection[model.Feedback]
	feedbackResponses  *Collection[model.FeedbackResponse]
	trash              *Collection[model.Trash]
}

// New creates a backend for cfg. The API key is sent both as apikey and as
// bearer token, as Supabase expects.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Newf("remote base url is required").
			Component("remote").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.New(err).
			Component("remote").
			Category(errors.CategoryConfiguration).
			Context("base_url", cfg.BaseURL).
			Build()
	}
	hc := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hc.DefaultTimeout = cfg.Timeout
	}
	if cfg.APIKey != "" {
		hc.Headers = map[string]string{
			"apikey":        cfg.APIKey,
			"Authorization": "Bearer " + cfg.APIKey,
		}
	}
	return NewWithClient(httpclient.New(&hc), cfg.BaseURL), nil
}

// NewWithClient creates a backend on an existing client.
func NewWithClient(client *httpclient.Client, baseURL string) *Backend {
	return &Backend{
		client:             client,
		farms:              NewCollection[model.Farm](client, baseURL, model.TableFarms),
		trees:              NewCollection[model.Tree](client, baseURL, model.TableTrees),
		images:             NewCollection[model.Image](client, baseURL, model.TableImages),
		analyses:           NewCollection[model.Analysis](client, baseURL, model.TableAnalyses),
		analyzedImages:     NewCollection[model.AnalyzedImage](client, baseURL, model.TableAnalyzedImages),
		diseasesIdentified: NewCollection[model.DiseaseIdentified](client, baseURL, model.TableDiseasesIdentified),
		diseases:           NewCollection[model.Disease](client, baseURL, model.TableDiseases),
		feedbacks:          NewCollection[model.Feedback](client, baseURL, model.TableFeedbacks),
		feedbackResponses:  NewCollection[model.FeedbackResponse](client, baseURL, model.TableFeedbackResponses),
		trash:              NewCollection[model.Trash](client, baseURL, model.TableTrash),
	}
}

func (b *Backend) Farms() remote.Service[model.Farm]        { return b.farms }
func (b *Backend) Trees() remote.Service[model.Tree]        { return b.trees }
func (b *Backend) Images() remote.Service[model.Image]      { return b.images }
func (b *Backend) Analyses() remote.Service[model.Analysis] { return b.analyses }
func (b *Backend) AnalyzedImages() remote.Service[model.AnalyzedImage] {
	return b.analyzedImages
}
func (b *Backend) DiseasesIdentified() remote.Service[model.DiseaseIdentified] {
	return b.diseasesIdentified
}
func (b *Backend) Diseases() remote.Service[model.Disease]   { return b.diseases }
func (b *Backend) Feedbacks() remote.Service[model.Feedback] { return b.feedbacks }
func (b *Backend) FeedbackResponses() remote.Service[model.FeedbackResponse] {
	return b.feedbackResponses
}
func (b *Backend) Trash() remote.Service[model.Trash] { return b.trash }

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}
