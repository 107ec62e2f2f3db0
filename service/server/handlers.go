package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/config"
)

const (
	maxRequestBodySize = 64 << 10 // 64KB - a burn request is four short strings
	maxPathLength      = 4096
)

// Error kinds produced by the HTTP layer rather than the burn engine.
const (
	KindInvalidRequest       = "invalid_request"
	KindBurnInProgress       = "burn_in_progress"
	KindUnsupportedMediaType = "unsupported_media_type"
	KindOriginNotAllowed     = "origin_not_allowed"
)

// BurnRequest is the body of POST /api/v1/burns. Amount and fee are decimal
// strings so that no precision is lost in transit.
type BurnRequest struct {
	MintAddress string `json:"mint_address"`
	Amount      string `json:"amount"`
	FeeSOL      string `json:"fee_sol"`
	KeypairPath string `json:"keypair_path"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ConfigResponse is the body of GET /api/v1/config.
type ConfigResponse struct {
	Network        string `json:"network"`
	Treasury       string `json:"treasury"`
	MinFeeLamports uint64 `json:"min_fee_lamports"`
	MaxFeeLamports uint64 `json:"max_fee_lamports"`
	MinFeeSOL      string `json:"min_fee_sol"`
	MaxFeeSOL      string `json:"max_fee_sol"`
	Commitment     string `json:"commitment"`
	ConfirmTimeout string `json:"confirm_timeout"`
}

// handleBurn returns a handler that runs one burn to completion.
// POST /api/v1/burns
// Only one burn runs at a time; a concurrent request gets 409 burn_in_progress.
// The body must be sent as application/json, which a browser cannot do
// cross-origin without a preflight.
func handleBurn(engine Burner, burning *sync.Mutex, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isJSON(r.Header.Get("Content-Type")) {
			writeError(w, KindUnsupportedMediaType, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req BurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode burn request", "error", err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, KindInvalidRequest, "request body too large: maximum size is 64KB", http.StatusBadRequest)
				return
			}
			writeError(w, KindInvalidRequest, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if len(req.KeypairPath) > maxPathLength || strings.ContainsRune(req.KeypairPath, 0) {
			writeError(w, KindInvalidRequest, "invalid keypair_path", http.StatusBadRequest)
			return
		}

		if !burning.TryLock() {
			logger.Warn("rejected burn request: another burn is in progress", "mint", req.MintAddress)
			writeError(w, KindBurnInProgress, "another burn is in progress; wait for it to finish", http.StatusConflict)
			return
		}
		defer burning.Unlock()

		res, err := engine.Burn(r.Context(), burn.Input{
			MintAddress: req.MintAddress,
			Amount:      req.Amount,
			FeeSOL:      req.FeeSOL,
			KeypairPath: req.KeypairPath,
		})
		if err != nil {
			be := burn.AsError(err)
			resp := ErrorResponse{
				Kind:      be.Kind.String(),
				Category:  string(be.Kind.Category()),
				Message:   be.Message,
				Reason:    be.Reason,
				Signature: be.Signature,
			}
			if res != nil {
				resp.ID = res.ID
				if resp.Signature == "" {
					resp.Signature = res.Signature
				}
			}
			writeJSON(w, resp, StatusForKind(be.Kind))
			return
		}

		writeJSON(w, res, http.StatusOK)
	})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// handleGetConfig returns the settings a caller needs before starting a burn.
// GET /api/v1/config
func handleGetConfig(cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ConfigResponse{
			Network:        cfg.SolanaNetwork,
			Treasury:       cfg.TreasuryAddress.String(),
			MinFeeLamports: cfg.MinFeeLamports,
			MaxFeeLamports: cfg.MaxFeeLamports,
			MinFeeSOL:      burn.FormatSOL(cfg.MinFeeLamports),
			MaxFeeSOL:      burn.FormatSOL(cfg.MaxFeeLamports),
			Commitment:     string(cfg.ConfirmCommitment),
			ConfirmTimeout: cfg.ConfirmTimeout.String(),
		}, http.StatusOK)
	})
}

// handleRPCHealth reports whether the configured Solana node is healthy.
// GET /health/rpc
func handleRPCHealth(health HealthChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := health.Health(r.Context()); err != nil {
			logger.Warn("rpc health check failed", "error", err)
			writeError(w, burn.KindNetworkUnavailable.String(), err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
}

// StatusForKind maps a burn failure kind to its HTTP status code. Broadcast
// failures with an unknown outcome use 202: the request was accepted by the
// network, and the body carries the signature to check.
func StatusForKind(kind burn.Kind) int {
	switch kind {
	case burn.KindKeyFileNotFound, burn.KindAccountNotFound, burn.KindMintNotFound:
		return http.StatusNotFound
	case burn.KindKeyFormat:
		return http.StatusUnprocessableEntity
	case burn.KindNetworkUnavailable:
		return http.StatusServiceUnavailable
	case burn.KindSubmissionRejected, burn.KindTransactionFailed:
		return http.StatusConflict
	case burn.KindConfirmationTimeout, burn.KindConfirmationAbandoned:
		return http.StatusAccepted
	case burn.KindCancelled:
		return http.StatusRequestTimeout
	case burn.KindInternal:
		return http.StatusInternalServerError
	}
	if kind.Category() == burn.CategoryInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, kind, message string, statusCode int) {
	writeJSON(w, ErrorResponse{Kind: kind, Message: message}, statusCode)
}
