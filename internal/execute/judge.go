// Package execute submits code to a Judge0-compatible execution
// service and polls for the result. The relay itself never calls the
// judge; this client backs the /api/execute endpoint so browser
// clients do not need the judge API key.
package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexuvula/codeshare/internal/config"
)

// Judge0 status IDs. 1 and 2 mean still processing; anything above 2
// is terminal. 3 is the only success status.
const (
	statusInQueue    = 1
	statusProcessing = 2
	statusAccepted   = 3
)

// languageIDs maps editor language names to Judge0 numeric language IDs.
var languageIDs = map[string]int{
	"python": 71, // Python 3.8.1
	"cpp":    54, // C++ (GCC 9.2.0)
	"java":   62, // Java (OpenJDK 13.0.1)
}

// ErrTimedOut is returned when polling exhausts max_attempts without a
// terminal status. No partial result is reported.
var ErrTimedOut = errors.New("execution timed out waiting for judge")

// ErrUnknownLanguage is returned for languages outside the supported set.
var ErrUnknownLanguage = errors.New("unknown language")

// Result is the normalized execution outcome.
type Result struct {
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	Error       string `json:"error"`
	StatusID    int    `json:"statusId"`
	Description string `json:"description"`
}

// Submission is the judge's GET /submissions/{token} response shape.
type Submission struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
}

// Client talks to one Judge0-compatible endpoint.
type Client struct {
	baseURL      string
	apiKey       string
	apiHost      string
	pollInterval time.Duration
	maxAttempts  int
	http         *http.Client
}

// NewClient creates a judge client from the execution config.
func NewClient(cfg config.ExecutionConfig) *Client {
	return &Client{
		baseURL:      cfg.URL,
		apiKey:       cfg.APIKey,
		apiHost:      cfg.APIHost,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		http:         &http.Client{Timeout: 15 * time.Second},
	}
}

// SupportedLanguage reports whether the judge knows the given language.
func SupportedLanguage(lang string) bool {
	_, ok := languageIDs[lang]
	return ok
}

// Submit posts a submission and returns the judge's token.
func (c *Client) Submit(ctx context.Context, code, language, stdin string) (string, error) {
	langID, ok := languageIDs[language]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}

	body, err := json.Marshal(map[string]any{
		"source_code": code,
		"language_id": langID,
		"stdin":       stdin,
	})
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/submissions?base64_encoded=false&wait=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("judge rejected submission: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding submission response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("judge returned no submission token")
	}
	return out.Token, nil
}

// Status fetches the current state of a submission.
func (c *Client) Status(ctx context.Context, token string) (*Submission, error) {
	url := c.baseURL + "/submissions/" + token + "?base64_encoded=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checking submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("judge status check failed: status %d", resp.StatusCode)
	}

	var sub Submission
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &sub, nil
}

// Execute runs the full flow: submit, poll until a terminal status or
// max attempts, normalize. A failed run is a valid Result, not an
// error; errors mean the judge itself was unreachable or timed out.
func (c *Client) Execute(ctx context.Context, code, language, stdin string) (*Result, error) {
	token, err := c.Submit(ctx, code, language, stdin)
	if err != nil {
		return nil, err
	}

	var sub *Submission
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		sub, err = c.Status(ctx, token)
		if err != nil {
			return nil, err
		}
		if sub.Status.ID > statusProcessing {
			break
		}
	}

	if sub == nil || sub.Status.ID <= statusProcessing {
		return nil, ErrTimedOut
	}

	errText := sub.Stderr
	if errText == "" {
		errText = sub.CompileOutput
	}

	return &Result{
		Success:     sub.Status.ID == statusAccepted,
		Output:      sub.Stdout,
		Error:       errText,
		StatusID:    sub.Status.ID,
		Description: sub.Status.Description,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}
}
