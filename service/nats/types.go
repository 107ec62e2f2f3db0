package nats

import (
	"time"

	"github.com/brojonat/tokenburn/service/burn"
)

// BurnEvent is the outcome of one burn, published to "{prefix}.{state}".
// It never carries key material; the signer is identified by public key only.
type BurnEvent struct {
	// Burn identifiers
	ID        string `json:"id"`
	Signature string `json:"signature,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`

	// Outcome
	State     string `json:"state"`
	Status    string `json:"status"`
	Submitted bool   `json:"submitted"`
	ErrorKind string `json:"error_kind,omitempty"`
	Category  string `json:"error_category,omitempty"`
	Message   string `json:"error_message,omitempty"`

	// Burn details
	Signer      string `json:"signer,omitempty"`
	Mint        string `json:"mint,omitempty"`
	Amount      uint64 `json:"amount"`
	Decimals    uint8  `json:"decimals"`
	FeeLamports uint64 `json:"fee_lamports"`

	// Timing information
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromResult converts a terminal burn result to a BurnEvent for publishing.
func FromResult(res *burn.Result) *BurnEvent {
	event := &BurnEvent{
		ID:          res.ID,
		Signature:   res.Signature,
		Slot:        res.Slot,
		State:       res.State.String(),
		Status:      res.Status.String(),
		Submitted:   res.Submitted(),
		Signer:      res.Signer,
		Mint:        res.Mint,
		Amount:      res.Amount,
		Decimals:    res.Decimals,
		FeeLamports: res.FeeLamports,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		PublishedAt: time.Now().UTC(),
	}

	if res.Err != nil {
		event.ErrorKind = res.Err.Kind.String()
		event.Category = string(res.Err.Kind.Category())
		event.Message = res.Err.Message
	}

	return event
}
