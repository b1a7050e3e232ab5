// Package client is the payer's side of the service: it submits a payment, follows
// the job's progress and redeems the sealed result once.
package client

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

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
)

var (
	ErrForbidden = errors.New("delivery forbidden")
	ErrNotReady  = errors.New("result not ready")
	ErrGone      = errors.New("result already delivered or expired")
)

// StatusError is a non-2xx response the client has no sentinel for.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http status %d", e.Code)
}

// Job identifies a queued job the way the payment gate hands it out.
type Job struct {
	ID          string
	ProgressURL string
	DeliveryURL string
}

// Token is the delivery secret carried in the delivery URL.
func (j Job) Token() (string, error) {
	u, err := url.Parse(j.DeliveryURL)
	if err != nil {
		return "", fmt.Errorf("parse delivery url: %w", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		return "", errors.New("delivery url carries no token")
	}
	return token, nil
}

// API talks to the public HTTP surface.
type API struct {
	httpClient *http.Client
	baseURL    string
}

func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &API{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Submit asks the payment gate to verify txid and returns the queued job.
func (a *API) Submit(ctx context.Context, txid string) (*Job, error) {
	body, err := json.Marshal(dto.VerifyPaymentRequest{TxID: txid})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp dto.VerifyPaymentResponse
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/api/payment/verify", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &Job{ID: resp.JobID, ProgressURL: a.resolve(resp.ProgressURL), DeliveryURL: a.resolve(resp.DeliveryURL)}, nil
}

// Progress reads the job's status and telemetry.
func (a *API) Progress(ctx context.Context, job *Job) (*dto.ProgressResponse, error) {
	var resp dto.ProgressResponse
	if err := a.do(ctx, http.MethodGet, job.ProgressURL, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Redeem fetches the sealed result. The server hands it out once.
func (a *API) Redeem(ctx context.Context, job *Job) (*dto.DeliveryResponse, error) {
	var resp dto.DeliveryResponse
	if err := a.do(ctx, http.MethodGet, job.DeliveryURL, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// resolve makes server-relative URLs absolute against the base URL.
func (a *API) resolve(u string) string {
	if strings.HasPrefix(u, "/") {
		return a.baseURL + u
	}
	return u
}

func (a *API) do(ctx context.Context, method, target string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e dto.ErrorResponse
		_ = json.Unmarshal(data, &e)
		switch resp.StatusCode {
		case http.StatusForbidden:
			return ErrForbidden
		case http.StatusGone:
			return ErrGone
		case http.StatusNotFound:
			if e.Error == "not ready" {
				return ErrNotReady
			}
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
