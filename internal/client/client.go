// Package client talks to the submission API over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itstheanurag/codejudge/internal/model"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	http *resty.Client
}

type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Field      string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api error %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func parseError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	return apiErr
}

func (c *Client) Submit(ctx context.Context, code string, problemID, userID int64) (*model.Submission, error) {
	var sub model.Submission
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"code":       code,
			"problem_id": problemID,
			"user_id":    userID,
		}).
		SetResult(&sub).
		Post("/api/submissions")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return nil, parseError(resp)
	}
	return &sub, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*model.Submission, error) {
	var sub model.Submission
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&sub).
		Get("/api/submissions/" + strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, model.ErrNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, parseError(resp)
	}
	return &sub, nil
}

func (c *Client) List(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	r := c.http.R().SetContext(ctx)
	if filter.UserID > 0 {
		r.SetQueryParam("user_id", strconv.FormatInt(filter.UserID, 10))
	}
	if filter.ProblemID > 0 {
		r.SetQueryParam("problem_id", strconv.FormatInt(filter.ProblemID, 10))
	}
	if filter.Status != "" {
		r.SetQueryParam("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(filter.Limit))
	}

	var subs []model.Submission
	resp, err := r.SetResult(&subs).Get("/api/submissions")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, parseError(resp)
	}
	return subs, nil
}

// WaitForVerdict polls until the submission reaches a terminal status or ctx
// is done.
func (c *Client) WaitForVerdict(ctx context.Context, id int64, interval time.Duration) (*model.Submission, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sub, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Status.IsTerminal() {
			return sub, nil
		}

		select {
		case <-ctx.Done():
			return sub, ctx.Err()
		case <-ticker.C:
		}
	}
}
