// Package scan sends leaf photos to the disease classifier and stores the
// results as images and analyses.
package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/httpclient"
	"github.com/leafscan/leafscan/internal/model"
)

// Client calls the classifier endpoint.
type Client struct {
	http     *httpclient.Client
	endpoint string
}

// NewClient creates a classifier client for endpoint.
func NewClient(client *httpclient.Client, endpoint string) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.Newf("scan endpoint is required").
			Component("scan").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Client{http: client, endpoint: endpoint}, nil
}

type scanResponse struct {
	Result *model.ScanResult `json:"result"`
	Error  string            `json:"error"`
}

// Process implements pending.Processor: one classifier call, no retry.
func (c *Client) Process(ctx context.Context, req model.ScanRequest) (model.ScanResult, error) {
	if err := req.Validate(); err != nil {
		return model.ScanResult{}, err
	}

	var resp scanResponse
	err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint, nil, req, &resp)
	if err != nil {
		return model.ScanResult{}, c.wrap(err, req)
	}
	if resp.Result == nil {
		msg := resp.Error
		if msg == "" {
			msg = "classifier returned no result"
		}
		return model.ScanResult{}, errors.Newf("%s", msg).
			Component("scan").
			Category(errors.CategoryValidation).
			Context("tree_code", req.TreeCode).
			Build()
	}
	return *resp.Result, nil
}

// wrap turns the {error} body of a failed call into the error message.
func (c *Client) wrap(err error, req model.ScanRequest) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	msg := se.Error()
	var body scanResponse
	if json.Unmarshal(se.Body, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	category := errors.CategoryValidation
	if se.Code >= 500 || se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests {
		category = errors.CategoryNetwork
	}
	return errors.New(errors.NewStd(msg)).
		Component("scan").
		Category(category).
		Context("status", se.Code).
		Context("tree_code", req.TreeCode).
		Build()
}
