package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/risk"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/snapshot"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Client is a small JSON-over-HTTP client shared by the remote backends.
// Transport errors and 5xx responses are retried with exponential backoff.
type Client struct {
	BaseURL    string
	Token      string
	HTTP       *http.Client
	MaxRetries uint64
	Logger     *zap.Logger
}

// NewClient creates a client for baseURL.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: 3,
		Logger:     logger,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Body)
}

// Do sends in as JSON and decodes the response into out. A 404 maps to
// store.ErrNotFound; other 4xx responses are not retried.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}
	target := c.BaseURL + path

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(bo, c.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Method: method, URL: target, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return backoff.Permanent(fmt.Errorf("%s: %w", serr.Error(), store.ErrNotFound))
			case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
				return serr
			default:
				return backoff.Permanent(serr)
			}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", target, err))
		}
		return nil
	}, b, func(err error, wait time.Duration) {
		c.Logger.Warn("Retrying backend request",
			zap.String("method", method),
			zap.String("url", target),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

// ============================================================================
// REMOTE BACKENDS
// ============================================================================

// HTTPSandbox submits jobs to a sandbox service.
type HTTPSandbox struct {
	Client *Client
}

// Run posts the job and waits for its result.
func (s *HTTPSandbox) Run(ctx context.Context, job sandbox.Job) (sandbox.Result, error) {
	var res sandbox.Result
	err := s.Client.Do(ctx, http.MethodPost, "/api/v1/sandbox/jobs", job, &res)
	return res, err
}

// HTTPDeployer drives a deployment service.
type HTTPDeployer struct {
	Client *Client
}

type stageRequest struct {
	ExecutionID string         `json:"execution_id"`
	PatchID     string         `json:"patch_id"`
	Strategy    model.Strategy `json:"strategy"`
	StageNumber int            `json:"stage_number"`
	Name        string         `json:"name"`
	Traffic     int            `json:"traffic_percentage"`
	AssetIDs    []string       `json:"asset_ids"`
}

// ApplyStage applies one stage and returns its telemetry.
func (d *HTTPDeployer) ApplyStage(ctx context.Context, exec *model.Execution, stage *model.DeploymentStage) (model.HealthMetrics, error) {
	var h model.HealthMetrics
	err := d.Client.Do(ctx, http.MethodPost, "/api/v1/deployments/"+url.PathEscape(exec.Key)+"/stages", stageRequest{
		ExecutionID: exec.Key,
		PatchID:     exec.PatchID,
		Strategy:    exec.Strategy,
		StageNumber: stage.StageNumber,
		Name:        stage.Name,
		Traffic:     stage.TrafficPercentage,
		AssetIDs:    stage.AssetIDs,
	}, &h)
	return h, err
}

// Probe reads current health.
func (d *HTTPDeployer) Probe(ctx context.Context, exec *model.Execution) (model.HealthMetrics, error) {
	var h model.HealthMetrics
	err := d.Client.Do(ctx, http.MethodGet, "/api/v1/deployments/"+url.PathEscape(exec.Key)+"/health", nil, &h)
	return h, err
}

// HTTPSnapshots drives a snapshot service.
type HTTPSnapshots struct {
	Client *Client
}

type captureResponse struct {
	Method    string `json:"method"`
	Location  string `json:"location"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Capture asks the service to snapshot the assets.
func (s *HTTPSnapshots) Capture(ctx context.Context, snap *model.Snapshot) (snapshot.Capture, error) {
	var res captureResponse
	if err := s.Client.Do(ctx, http.MethodPost, "/api/v1/snapshots", snap, &res); err != nil {
		return snapshot.Capture{}, err
	}
	return snapshot.Capture(res), nil
}

// Verify asks the service to check the stored snapshot against its checksum.
func (s *HTTPSnapshots) Verify(ctx context.Context, snap *model.Snapshot) (bool, error) {
	var res struct {
		Verified bool `json:"verified"`
	}
	err := s.Client.Do(ctx, http.MethodPost, "/api/v1/snapshots/"+url.PathEscape(snap.Key)+"/verify",
		map[string]string{"checksum": snap.Checksum, "location": snap.Location}, &res)
	return res.Verified, err
}

// Restore puts the snapshot back.
func (s *HTTPSnapshots) Restore(ctx context.Context, snap *model.Snapshot) error {
	return s.Client.Do(ctx, http.MethodPost, "/api/v1/snapshots/"+url.PathEscape(snap.Key)+"/restore", snap, nil)
}

// HTTPSignals reads vulnerability and asset signals from the intelligence and
// inventory services.
type HTTPSignals struct {
	Intel     *Client
	Inventory *Client
}

// VulnerabilitySignal fetches a vulnerability.
func (s *HTTPSignals) VulnerabilitySignal(ctx context.Context, id string) (*model.VulnerabilitySignal, error) {
	var v model.VulnerabilitySignal
	if err := s.Intel.Do(ctx, http.MethodGet, "/api/v1/vulnerabilities/"+url.PathEscape(id), nil, &v); err != nil {
		return nil, err
	}
	if v.ID == "" {
		v.ID = id
	}
	return &v, nil
}

// AssetProfile fetches an asset.
func (s *HTTPSignals) AssetProfile(ctx context.Context, id string) (*model.AssetProfile, error) {
	var a model.AssetProfile
	if err := s.Inventory.Do(ctx, http.MethodGet, "/api/v1/assets/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	if a.ID == "" {
		a.ID = id
	}
	return &a, nil
}

// Ensure compile-time interface checks
var (
	_ snapshot.Backend    = (*HTTPSnapshots)(nil)
	_ sandbox.Backend     = (*HTTPSandbox)(nil)
	_ deploy.Deployer     = (*HTTPDeployer)(nil)
	_ risk.SignalProvider = (*HTTPSignals)(nil)
)
