// Package client talks to a gridjobs server: it submits tasks, polls them and
// collects their artifacts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gridjobs/pkg/backoff"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrFailed   = errors.New("task failed")
)

const (
	StatusRunning = "In-progress"
	StatusFailed  = "Failed"
	StatusReady   = "Ready"
	StatusStopped = "Stopped"
)

// APIError is a non-success answer of the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.StatusCode)
	}
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Status struct {
	CreatedAt      string   `json:"Created at"`
	Elapsed        string   `json:"Elapsed time"`
	Status         string   `json:"Status"`
	FailureMessage []string `json:"Failure message,omitempty"`
	StoppedAt      string   `json:"Stopped at,omitempty"`
}

func (s Status) Failure() string {
	return strings.Join(s.FailureMessage, "\n")
}

type Field struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	SaveAs   string `json:"save_as,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type Operation struct {
	Name        string  `json:"name"`
	Fields      []Field `json:"fields"`
	Artifact    string  `json:"artifact"`
	ContentType string  `json:"content_type"`
}

// Form is the launch input of one task. Files are streamed, not buffered.
type Form struct {
	Fields map[string]string
	Files  map[string]io.Reader
}

type Client struct {
	BaseURL  string
	HTTP     *http.Client
	PollBase time.Duration
	PollMax  time.Duration
}

// New returns a client that does not follow redirects: the protocol uses
// them to hand out task locations.
func New(baseURL string) *Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     hc,
		PollBase: 250 * time.Millisecond,
		PollMax:  10 * time.Second,
	}
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.BaseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.HTTP.Do(req)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

// Submit starts op and returns the task id.
func (c *Client) Submit(ctx context.Context, op string, f Form) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f))
	}()

	resp, err := c.do(ctx, http.MethodPost, c.url(op), pr, mw.FormDataContentType())
	_ = pr.Close()
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		return "", apiError(resp)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || loc.Path == "" {
		return "", fmt.Errorf("submit answered without a task location")
	}
	return path.Base(loc.Path), nil
}

func writeForm(mw *multipart.Writer, f Form) error {
	for _, name := range sortedKeys(f.Fields) {
		if err := mw.WriteField(name, f.Fields[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(f.Files) {
		w, err := mw.CreateFormFile(name, name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f.Files[name]); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
	}
	return mw.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Status probes a task. A ready task is reported with Status "Ready".
func (c *Client) Status(ctx context.Context, op, id string) (Status, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(op, id), nil, "")
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusSeeOther:
		return Status{Status: StatusReady}, nil
	case http.StatusOK:
		var s Status
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			return Status{}, fmt.Errorf("decoding status: %w", err)
		}
		return s, nil
	default:
		return Status{}, apiError(resp)
	}
}

// Wait polls until the task is ready or failed. A failed task is returned
// together with an error wrapping ErrFailed.
func (c *Client) Wait(ctx context.Context, op, id string) (Status, error) {
	for attempt := 1; ; attempt++ {
		s, err := c.Status(ctx, op, id)
		if err != nil {
			return s, err
		}
		switch s.Status {
		case StatusReady:
			return s, nil
		case StatusFailed:
			return s, fmt.Errorf("%w: %s", ErrFailed, s.Failure())
		}

		t := time.NewTimer(backoff.ExponentialJitter(c.PollBase, c.PollMax, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return s, ctx.Err()
		case <-t.C:
		}
	}
}

// Download copies the artifact of a ready task into w. The server deletes
// the task afterwards.
func (c *Client) Download(ctx context.Context, op, id string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(op, id, "download"), nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) Stop(ctx context.Context, op, id string) (Status, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.url(op, id), nil, "")
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, apiError(resp)
	}
	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("decoding stop answer: %w", err)
	}
	return s, nil
}

func (c *Client) Ops(ctx context.Context) ([]Operation, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("ops"), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out []Operation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding operations: %w", err)
	}
	return out, nil
}
