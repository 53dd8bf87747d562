package formclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campushq/apply-api/pkg/config"
)

// Submission is one form submission with its raw field data.
type Submission struct {
	ID   int64
	Data []FieldValue
}

// FieldValue pairs an opaque provider field id with its submitted value.
type FieldValue struct {
	FieldID int64
	Value   string
}

// Field describes one form field in the provider's schema.
type Field struct {
	ID    int64
	Label string
}

// FieldSpec describes a field to provision on a form.
type FieldSpec struct {
	Label    string `json:"label"`
	Type     string `json:"field_type"`
	Required bool   `json:"required"`
}

// Invalidator receives notice whenever upstream form data may have changed.
// Keys are deliberately coarse: a whole form is invalidated at once rather
// than risking a stale cached fetch.
type Invalidator interface {
	InvalidateForm(ctx context.Context, formID int64)
}

// Client talks to the third-party form submission API. Pagination is handled
// here; callers consume submission listings as one flattened sequence. The
// API key is passed per call because each program carries its own credential.
type Client struct {
	baseURL     string
	pageSize    int
	httpClient  *http.Client
	invalidator Invalidator
	logger      *zap.Logger
}

// New constructs a Client from provider settings.
func New(cfg config.FormProviderConfig, invalidator Invalidator, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		pageSize:    pageSize,
		httpClient:  &http.Client{Timeout: timeout},
		invalidator: invalidator,
		logger:      logger,
	}
}

// wire-format payloads; the provider quotes all numeric ids.

type submissionPayload struct {
	ID   string                  `json:"id"`
	Data map[string]valuePayload `json:"data"`
}

type valuePayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type submissionListPayload struct {
	Submissions []submissionPayload `json:"submissions"`
	Pages       int                 `json:"pages"`
}

type fieldPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type formFieldsPayload struct {
	Fields []fieldPayload `json:"fields"`
}

// Submissions lists every submission for the form, walking all pages and
// returning them flattened in provider listing order.
func (c *Client) Submissions(ctx context.Context, apiKey string, formID int64) ([]Submission, error) {
	var all []Submission
	page := 1
	for {
		endpoint := fmt.Sprintf("/form/%d/submission", formID)
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("data", "1")

		var payload submissionListPayload
		if err := c.get(ctx, apiKey, endpoint, query, &payload); err != nil {
			return nil, fmt.Errorf("list submissions for form %d: %w", formID, err)
		}

		for _, raw := range payload.Submissions {
			submission, err := decodeSubmission(raw)
			if err != nil {
				return nil, fmt.Errorf("decode submission for form %d: %w", formID, err)
			}
			all = append(all, submission)
		}

		if payload.Pages <= page || len(payload.Submissions) == 0 {
			break
		}
		page++
	}
	return all, nil
}

// SubmissionData returns the raw field data for a single submission.
func (c *Client) SubmissionData(ctx context.Context, apiKey string, submissionID int64) ([]FieldValue, error) {
	endpoint := fmt.Sprintf("/submission/%d", submissionID)
	var payload submissionPayload
	if err := c.get(ctx, apiKey, endpoint, url.Values{"data": {"1"}}, &payload); err != nil {
		return nil, fmt.Errorf("fetch submission %d: %w", submissionID, err)
	}
	submission, err := decodeSubmission(payload)
	if err != nil {
		return nil, fmt.Errorf("decode submission %d: %w", submissionID, err)
	}
	return submission.Data, nil
}

// FieldInfo returns the form's field schema used for label lookup.
func (c *Client) FieldInfo(ctx context.Context, apiKey string, formID int64) ([]Field, error) {
	endpoint := fmt.Sprintf("/form/%d", formID)
	var payload formFieldsPayload
	if err := c.get(ctx, apiKey, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch field info for form %d: %w", formID, err)
	}

	fields := make([]Field, 0, len(payload.Fields))
	for _, raw := range payload.Fields {
		id, err := strconv.ParseInt(raw.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode field id %q for form %d: %w", raw.ID, formID, err)
		}
		fields = append(fields, Field{ID: id, Label: raw.Label})
	}
	return fields, nil
}

// CreateField provisions a new field on the form. The form's cached state is
// invalidated because the schema, and therefore label lookups, changed.
func (c *Client) CreateField(ctx context.Context, apiKey string, formID int64, spec FieldSpec) (*Field, error) {
	endpoint := fmt.Sprintf("/form/%d/field", formID)
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal field spec: %w", err)
	}

	var payload fieldPayload
	if err := c.do(ctx, http.MethodPost, apiKey, endpoint, nil, bytes.NewReader(body), &payload); err != nil {
		return nil, fmt.Errorf("create field on form %d: %w", formID, err)
	}

	id, err := strconv.ParseInt(payload.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode created field id %q: %w", payload.ID, err)
	}

	c.notifyChanged(ctx, formID)
	return &Field{ID: id, Label: payload.Label}, nil
}

// NotifyChanged records an upstream change signal (e.g. a provider webhook)
// and invalidates cached state for the form.
func (c *Client) NotifyChanged(ctx context.Context, formID int64) {
	c.notifyChanged(ctx, formID)
}

func (c *Client) notifyChanged(ctx context.Context, formID int64) {
	if c.invalidator == nil {
		return
	}
	c.logger.Debug("form data changed, invalidating", zap.Int64("form_id", formID))
	c.invalidator.InvalidateForm(ctx, formID)
}

func (c *Client) get(ctx context.Context, apiKey, endpoint string, query url.Values, dest interface{}) error {
	return c.do(ctx, http.MethodGet, apiKey, endpoint, query, nil, dest)
}

func (c *Client) do(ctx context.Context, method, apiKey, endpoint string, query url.Values, body io.Reader, dest interface{}) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d for %s %s: %s", resp.StatusCode, method, endpoint, string(snippet))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response for %s %s: %w", method, endpoint, err)
	}
	return nil
}

func decodeSubmission(raw submissionPayload) (Submission, error) {
	id, err := strconv.ParseInt(raw.ID, 10, 64)
	if err != nil {
		return Submission{}, fmt.Errorf("submission id %q: %w", raw.ID, err)
	}

	data := make([]FieldValue, 0, len(raw.Data))
	for key, value := range raw.Data {
		fieldRaw := value.Field
		if fieldRaw == "" {
			fieldRaw = key
		}
		fieldID, err := strconv.ParseInt(fieldRaw, 10, 64)
		if err != nil {
			return Submission{}, fmt.Errorf("field id %q in submission %d: %w", fieldRaw, id, err)
		}
		data = append(data, FieldValue{FieldID: fieldID, Value: value.Value})
	}
	// The provider encodes data as a JSON object; sort for a stable order.
	sort.Slice(data, func(i, j int) bool { return data[i].FieldID < data[j].FieldID })
	return Submission{ID: id, Data: data}, nil
}
