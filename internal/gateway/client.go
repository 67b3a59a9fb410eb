// Package gateway is the transport wrapper around the remote search service.
// It issues the submit, status and result calls and folds every failure into
// ErrTransport, ErrProtocol or *ApplicationError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"golang.org/x/time/rate"
)

const (
	submitPath = "/blast"
	statusPath = "/blast-status"
	resultPath = "/blast-results"

	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

// Client is the interface for talking to the search service.
type Client interface {
	// Submit sends a search. The outcome carries a bundle when the service
	// finished before replying, and is pending otherwise.
	Submit(ctx context.Context, q models.Query) (SubmitOutcome, error)
	// FetchStatus returns the service's coarse status label.
	FetchStatus(ctx context.Context) (string, error)
	// FetchResult returns a bundle once the service reports completion and nil
	// before that. Safe to call repeatedly.
	FetchResult(ctx context.Context) (*models.ResultBundle, error)
	// Ready checks the service answers at all.
	Ready(ctx context.Context) error
}

// SubmitOutcome is the reply to a submission.
type SubmitOutcome struct {
	Result *models.ResultBundle
}

// Pending reports whether the search has not finished yet.
func (o SubmitOutcome) Pending() bool { return o.Result == nil }

// HTTPClient implements Client over the service's JSON HTTP API.
type HTTPClient struct {
	baseURL   string
	assetBase *url.URL
	submit    *http.Client
	poll      *http.Client
	limiter   *rate.Limiter
}

// NewHTTPClient creates a client from the search configuration. Submissions
// use SubmitTimeout; status and result polls use PollTimeout and are paced by
// PollRPS when it is positive.
func NewHTTPClient(cfg config.SearchConfig) (*HTTPClient, error) {
	assetRaw := cfg.AssetBaseURL
	if assetRaw == "" {
		assetRaw = cfg.BaseURL
	}
	// A trailing slash makes relative references resolve under the base path.
	assetBase, err := url.Parse(strings.TrimRight(assetRaw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse asset base URL: %w", err)
	}

	c := &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		assetBase: assetBase,
		submit:    &http.Client{Timeout: cfg.SubmitTimeout},
		poll:      &http.Client{Timeout: cfg.PollTimeout},
	}
	if cfg.PollRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.PollRPS), 1)
	}
	return c, nil
}

func (c *HTTPClient) Submit(ctx context.Context, q models.Query) (SubmitOutcome, error) {
	body, err := json.Marshal(submitRequest{
		Sequence:  q.Sequence,
		BlastType: string(q.SearchMode),
		Database:  string(q.Database),
	})
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("encoding submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.submit.Do(req)
	if err != nil {
		return SubmitOutcome{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return SubmitOutcome{}, nil
	}
	if !isSuccess(resp.StatusCode) {
		return SubmitOutcome{}, responseError(resp)
	}

	var payload resultPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SubmitOutcome{}, protocolError("decoding submit response: %v", err)
	}
	if payload.Error != "" {
		return SubmitOutcome{}, &ApplicationError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	// A bare acknowledgement such as {"status":"queued"} means still pending.
	if payload.Response == nil {
		return SubmitOutcome{}, nil
	}

	bundle, err := c.toBundle(payload)
	if err != nil {
		return SubmitOutcome{}, err
	}
	return SubmitOutcome{Result: bundle}, nil
}

func (c *HTTPClient) FetchStatus(ctx context.Context) (string, error) {
	resp, err := c.pollGet(ctx, statusPath)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", responseError(resp)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", protocolError("decoding status response: %v", err)
	}
	if payload.Status == nil {
		return "", protocolError("status response missing status")
	}
	return *payload.Status, nil
}

func (c *HTTPClient) FetchResult(ctx context.Context) (*models.ResultBundle, error) {
	resp, err := c.pollGet(ctx, resultPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Not ready yet.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		return nil, responseError(resp)
	}

	var payload resultEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, protocolError("decoding result response: %v", err)
	}
	if payload.Error != "" {
		return nil, &ApplicationError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if !IsCompleted(payload.Status) || payload.Results == nil {
		return nil, nil
	}
	return c.toBundle(*payload.Results)
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.pollGet(ctx, statusPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: search service not ready (status %d)", ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) pollGet(ctx context.Context, path string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.poll.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// toBundle validates a result payload and resolves its references.
func (c *HTTPClient) toBundle(p resultPayload) (*models.ResultBundle, error) {
	switch {
	case p.Response == nil:
		return nil, protocolError("result missing response")
	case p.TreeImage == "":
		return nil, protocolError("result missing tree_image")
	case p.File == "":
		return nil, protocolError("result missing file")
	}

	hits := p.TopHits
	if len(hits) > models.MaxTopHits {
		hits = hits[:models.MaxTopHits]
	}
	topHits := make([]models.Hit, 0, len(hits))
	for _, h := range hits {
		topHits = append(topHits, models.Hit{
			Title:           h.Title,
			PublicationLink: c.resolve(h.PublicationLink),
		})
	}

	return &models.ResultBundle{
		Summary:       *p.Response,
		TreeImageURL:  c.resolve(p.TreeImage),
		FullResultURL: c.resolve(p.File),
		TopHits:       topHits,
	}, nil
}

// resolve turns a service-relative reference into an absolute URL. Absolute
// references and empty strings pass through unchanged.
func (c *HTTPClient) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return c.assetBase.ResolveReference(&url.URL{
		Path:     strings.TrimLeft(u.Path, "/"),
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
	}).String()
}

// IsCompleted reports whether a status label means the search has finished.
func IsCompleted(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "completed", "complete", "done", "finished", "success", "succeeded":
		return true
	}
	return false
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

// responseError maps a non-success reply. Gateway timeouts and unavailable
// proxies say nothing about the search itself, so they count as transport
// failures; everything else is the service reporting an error.
func responseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var body errorPayload
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &ApplicationError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	return &ApplicationError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("search service returned status %d", resp.StatusCode),
	}
}

// classifyError maps transport-level errors to ErrTransport.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}

	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// --- search service wire types ---

type submitRequest struct {
	Sequence  string `json:"sequence"`
	BlastType string `json:"blast_type"`
	Database  string `json:"database"`
}

type resultPayload struct {
	Response  *string      `json:"response"`
	TreeImage string       `json:"tree_image"`
	File      string       `json:"file"`
	TopHits   []hitPayload `json:"top_hits"`
	Error     string       `json:"error"`
}

type hitPayload struct {
	Title           string `json:"title"`
	PublicationLink string `json:"publication_link"`
}

type statusPayload struct {
	Status *string `json:"status"`
}

type resultEnvelope struct {
	Status  string         `json:"status"`
	Results *resultPayload `json:"results"`
	Error   string         `json:"error"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
