package burn

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies every failure a burn can end with. The set is closed.
type Kind int

const (
	KindInternal Kind = iota
	KindKeyFileNotFound
	KindKeyFormat
	KindInvalidAddress
	KindInvalidAmount
	KindZeroAmount
	KindInvalidFee
	KindFeeOutOfRange
	KindInsufficientBalance
	KindAccountNotFound
	KindMintNotFound
	KindNetworkUnavailable
	KindSubmissionRejected
	KindTransactionFailed
	KindConfirmationTimeout
	KindConfirmationAbandoned
	KindCancelled
)

var kindNames = [...]string{
	KindInternal:              "internal",
	KindKeyFileNotFound:       "key_file_not_found",
	KindKeyFormat:             "key_format",
	KindInvalidAddress:        "invalid_address",
	KindInvalidAmount:         "invalid_amount",
	KindZeroAmount:            "zero_amount",
	KindInvalidFee:            "invalid_fee",
	KindFeeOutOfRange:         "fee_out_of_range",
	KindInsufficientBalance:   "insufficient_balance",
	KindAccountNotFound:       "account_not_found",
	KindMintNotFound:          "mint_not_found",
	KindNetworkUnavailable:    "network_unavailable",
	KindSubmissionRejected:    "submission_rejected",
	KindTransactionFailed:     "transaction_failed",
	KindConfirmationTimeout:   "confirmation_timeout",
	KindConfirmationAbandoned: "confirmation_abandoned",
	KindCancelled:             "cancelled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown error kind %q", text)
	}
	*k = parsed
	return nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return KindInternal, false
}

// Category groups kinds the way callers usually react to them.
type Category string

const (
	CategoryInput      Category = "input"
	CategoryResource   Category = "resource"
	CategoryNetwork    Category = "network"
	CategorySubmission Category = "submission"
	// CategoryAmbiguous means the transaction was broadcast and its outcome is unknown.
	CategoryAmbiguous Category = "ambiguous"
	CategoryCancelled Category = "cancelled"
	CategoryInternal  Category = "internal"
)

func (k Kind) Category() Category {
	switch k {
	case KindInvalidAddress, KindInvalidAmount, KindZeroAmount, KindInvalidFee,
		KindFeeOutOfRange, KindInsufficientBalance:
		return CategoryInput
	case KindKeyFileNotFound, KindKeyFormat, KindAccountNotFound, KindMintNotFound:
		return CategoryResource
	case KindNetworkUnavailable:
		return CategoryNetwork
	case KindSubmissionRejected, KindTransactionFailed:
		return CategorySubmission
	case KindConfirmationTimeout, KindConfirmationAbandoned:
		return CategoryAmbiguous
	case KindCancelled:
		return CategoryCancelled
	default:
		return CategoryInternal
	}
}

// Broadcast reports whether an error of this kind can only happen after the
// transaction reached the network.
func (k Kind) Broadcast() bool {
	switch k {
	case KindTransactionFailed, KindConfirmationTimeout, KindConfirmationAbandoned:
		return true
	}
	return false
}

// Error is the typed failure returned at the engine boundary.
type Error struct {
	Kind    Kind
	Message string
	// Reason carries the node's or the chain's explanation, verbatim.
	Reason string
	// Signature is set once the transaction has been broadcast.
	Signature string
	Err       error
}

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrKeyFileNotFound       = &Error{Kind: KindKeyFileNotFound}
	ErrKeyFormat             = &Error{Kind: KindKeyFormat}
	ErrInvalidAddress        = &Error{Kind: KindInvalidAddress}
	ErrInvalidAmount         = &Error{Kind: KindInvalidAmount}
	ErrZeroAmount            = &Error{Kind: KindZeroAmount}
	ErrInvalidFee            = &Error{Kind: KindInvalidFee}
	ErrFeeOutOfRange         = &Error{Kind: KindFeeOutOfRange}
	ErrInsufficientBalance   = &Error{Kind: KindInsufficientBalance}
	ErrAccountNotFound       = &Error{Kind: KindAccountNotFound}
	ErrMintNotFound          = &Error{Kind: KindMintNotFound}
	ErrNetworkUnavailable    = &Error{Kind: KindNetworkUnavailable}
	ErrSubmissionRejected    = &Error{Kind: KindSubmissionRejected}
	ErrTransactionFailed     = &Error{Kind: KindTransactionFailed}
	ErrConfirmationTimeout   = &Error{Kind: KindConfirmationTimeout}
	ErrConfirmationAbandoned = &Error{Kind: KindConfirmationAbandoned}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrInternal              = &Error{Kind: KindInternal}
)

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Reason == "" {
		msg += ": " + e.Err.Error()
	}
	if e.Signature != "" {
		msg += " (signature " + e.Signature + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithSignature returns a copy of e carrying sig.
func (e *Error) WithSignature(sig string) *Error {
	cp := *e
	cp.Signature = sig
	return &cp
}

// MarshalJSON renders the error for API responses. The wrapped cause is not included.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorJSON{
		Kind:      e.Kind,
		Category:  e.Kind.Category(),
		Message:   e.Message,
		Reason:    e.Reason,
		Signature: e.Signature,
	})
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var v errorJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*e = Error{Kind: v.Kind, Message: v.Message, Reason: v.Reason, Signature: v.Signature}
	return nil
}

type errorJSON struct {
	Kind      Kind     `json:"kind"`
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Reason    string   `json:"reason,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// AsError converts any error into an *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return Wrap(KindInternal, err, "unexpected failure")
}
