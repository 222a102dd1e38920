package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the condition should self-heal and the caller
// can keep re-attempting on later operations.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// physicalTable is the single backend table everything maps onto.
	physicalTable = "notes"

	// restPath is the PostgREST-style query surface.
	restPath = "/rest/v1/"

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 15 * time.Second

	// maxResponseBytes caps response body reads so a misbehaving server
	// cannot consume unbounded memory.
	maxResponseBytes = 4 * 1024 * 1024
)

// Query selects physical rows. Zero fields are omitted from the request.
type Query struct {
	// ID matches the physical row id exactly.
	ID string

	// TitleLike matches a title prefix; "*" is the wildcard.
	TitleLike string

	// TitleNotLike excludes title prefixes. Used to keep compat rows out
	// of plain-notes queries.
	TitleNotLike []string
}

// Client talks to the backend's REST surface for the notes table.
type Client struct {
	httpClient *http.Client
	baseURL    string
	key        string
}

// NewClient creates a REST client for the given backend. If httpClient
// is nil, a client with a 15-second timeout is created.
func NewClient(baseURL, key string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
	}
}

// Select returns the rows matching the query.
func (c *Client) Select(ctx context.Context, q Query) ([]Row, error) {
	req, err := c.newRequest(ctx, http.MethodGet, q, nil)
	if err != nil {
		return nil, err
	}

	return c.do(req)
}

// Upsert inserts or updates rows by id and returns the stored
// representation.
func (c *Client) Upsert(ctx context.Context, rows []Row) ([]Row, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshalling rows: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, Query{}, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Prefer", "resolution=merge-duplicates,return=representation")

	return c.do(req)
}

// Delete removes the rows matching the query and returns them. An empty
// query is refused so a bug can never wipe the physical table.
func (c *Client) Delete(ctx context.Context, q Query) ([]Row, error) {
	if q.ID == "" && q.TitleLike == "" {
		return nil, fmt.Errorf("refusing unfiltered delete on %s", physicalTable)
	}

	req, err := c.newRequest(ctx, http.MethodDelete, q, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Prefer", "return=representation")

	return c.do(req)
}

func (c *Client) newRequest(ctx context.Context, method string, q Query, body io.Reader) (*http.Request, error) {
	params := url.Values{}
	if q.ID != "" {
		params.Add("id", "eq."+q.ID)
	}

	if q.TitleLike != "" {
		params.Add("title", "like."+q.TitleLike)
	}

	for _, p := range q.TitleNotLike {
		params.Add("title", "not.like."+p)
	}

	endpoint := c.baseURL + restPath + physicalTable
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do executes the request and decodes the row array response. Network
// failures and 5xx responses come back wrapped as TransientError.
func (c *Client) do(req *http.Request) ([]Row, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: fmt.Errorf("sending request to %s: %w", req.URL.Path, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var rows []Row
	if err := json.Unmarshal(respBody, &rows); err != nil {
		// Tolerate a single-object response from maybe-single lookups.
		var row Row
		if json.Unmarshal(respBody, &row) == nil && row.ID != "" {
			return []Row{row}, nil
		}

		return nil, fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}

	return rows, nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying later.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
