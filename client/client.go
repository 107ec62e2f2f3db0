package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
)

// ErrBurnInProgress is returned when the server is already running a burn.
var ErrBurnInProgress = errors.New("another burn is in progress on the server")

// BurnRequest asks the server to burn Amount base units of MintAddress and pay
// FeeSOL to the treasury, signing with the key file at KeypairPath on the server host.
type BurnRequest struct {
	MintAddress string `json:"mint_address"`
	Amount      string `json:"amount"`
	FeeSOL      string `json:"fee_sol"`
	KeypairPath string `json:"keypair_path"`
}

// ServerConfig is what the server reports about its burn settings.
type ServerConfig struct {
	Network        string        `json:"network"`
	Treasury       string        `json:"treasury"`
	MinFeeLamports uint64        `json:"min_fee_lamports"`
	MaxFeeLamports uint64        `json:"max_fee_lamports"`
	MinFeeSOL      string        `json:"min_fee_sol"`
	MaxFeeSOL      string        `json:"max_fee_sol"`
	Commitment     string        `json:"commitment"`
	ConfirmTimeout time.Duration `json:"-"`
}

// Client is the HTTP client for the tokenburn service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new burn service client. The default HTTP timeout covers
// a full confirmation wait.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Burn runs a burn on the server and waits for its outcome.
//
// On failure the returned error wraps a *burn.Error, so errors.Is(err,
// burn.ErrConfirmationTimeout) and friends work as they do locally. The Result is
// non-nil whenever the server reported one, including broadcast failures that
// carry a signature.
func (c *Client) Burn(ctx context.Context, in BurnRequest) (*burn.Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/burns", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseBurnFailure(resp)
	}

	var res burn.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("burn completed", "id", res.ID, "signature", res.Signature, "status", res.Status.String())
	return &res, nil
}

// Config retrieves the server's network, treasury and fee bounds.
func (c *Client) Config(ctx context.Context) (*ServerConfig, error) {
	resp, err := c.get(ctx, "/api/v1/config")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiConfig struct {
		ServerConfig
		ConfirmTimeout string `json:"confirm_timeout"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiConfig); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	cfg := apiConfig.ServerConfig
	if apiConfig.ConfirmTimeout != "" {
		timeout, err := time.ParseDuration(apiConfig.ConfirmTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid confirm_timeout %q: %w", apiConfig.ConfirmTimeout, err)
		}
		cfg.ConfirmTimeout = timeout
	}
	return &cfg, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.checkHealth(ctx, "/health")
}

// RPCHealth checks that the server's Solana node is healthy.
func (c *Client) RPCHealth(ctx context.Context) error {
	return c.checkHealth(ctx, "/health/rpc")
}

func (c *Client) checkHealth(ctx context.Context, path string) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// errorResponse is the API response format for a failed request.
type errorResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	Signature string `json:"signature"`
}

// parseBurnFailure turns a non-200 burn response into a Result and a *burn.Error.
func (c *Client) parseBurnFailure(resp *http.Response) (*burn.Result, error) {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Kind == "" {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if errResp.Kind == "burn_in_progress" {
		return nil, fmt.Errorf("%w: %s", ErrBurnInProgress, errResp.Message)
	}

	kind, ok := burn.ParseKind(errResp.Kind)
	if !ok {
		return nil, fmt.Errorf("request failed: %s: %s", errResp.Kind, errResp.Message)
	}

	be := &burn.Error{
		Kind:      kind,
		Message:   errResp.Message,
		Reason:    errResp.Reason,
		Signature: errResp.Signature,
	}

	var res *burn.Result
	if errResp.ID != "" {
		res = &burn.Result{
			ID:        errResp.ID,
			State:     burn.StateFailed,
			Signature: errResp.Signature,
			Err:       be,
		}
		if kind.Broadcast() {
			res.Status = burn.StatusPending
			if kind == burn.KindTransactionFailed {
				res.Status = burn.StatusFailed
			}
		}
	}

	c.logger.Debug("burn failed", "status_code", resp.StatusCode, "kind", errResp.Kind, "signature", errResp.Signature)
	return res, fmt.Errorf("burn failed: %w", be)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Message)
}
