package burn

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := Errorf(KindFeeOutOfRange, "fee %s SOL is too high", "5")
	wrapped := fmt.Errorf("burn: %w", err)

	assert.ErrorIs(t, wrapped, ErrFeeOutOfRange)
	assert.NotErrorIs(t, wrapped, ErrInvalidFee)
	assert.Equal(t, KindFeeOutOfRange, KindOf(wrapped))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindNetworkUnavailable, cause, "failed to fetch mint")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "network_unavailable: failed to fetch mint: connection reset", err.Error())
}

func TestError_MessageIncludesReasonAndSignature(t *testing.T) {
	err := &Error{
		Kind:      KindTransactionFailed,
		Message:   "transaction executed with an error",
		Reason:    "custom program error: 0x1",
		Signature: "5sig",
	}
	assert.Equal(t, "transaction_failed: transaction executed with an error: custom program error: 0x1 (signature 5sig)", err.Error())
	assert.Equal(t, "zero_amount", ErrZeroAmount.Error())
}

func TestKind_Category(t *testing.T) {
	tests := map[Kind]Category{
		KindInvalidAddress:        CategoryInput,
		KindZeroAmount:            CategoryInput,
		KindFeeOutOfRange:         CategoryInput,
		KindInsufficientBalance:   CategoryInput,
		KindKeyFileNotFound:       CategoryResource,
		KindKeyFormat:             CategoryResource,
		KindAccountNotFound:       CategoryResource,
		KindNetworkUnavailable:    CategoryNetwork,
		KindSubmissionRejected:    CategorySubmission,
		KindTransactionFailed:     CategorySubmission,
		KindConfirmationTimeout:   CategoryAmbiguous,
		KindConfirmationAbandoned: CategoryAmbiguous,
		KindCancelled:             CategoryCancelled,
		KindInternal:              CategoryInternal,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.Category(), kind.String())
	}
}

func TestKind_EveryKindHasAName(t *testing.T) {
	for k := KindInternal; k <= KindCancelled; k++ {
		name := k.String()
		assert.NotContains(t, name, "kind(")
		parsed, ok := ParseKind(name)
		require.True(t, ok, name)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseKind("nope")
	assert.False(t, ok)
}

func TestError_JSON(t *testing.T) {
	err := &Error{
		Kind:      KindConfirmationTimeout,
		Message:   "not confirmed within 1m30s",
		Signature: "5sig",
		Err:       errors.New("internal detail"),
	}

	data, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{
		"kind": "confirmation_timeout",
		"category": "ambiguous",
		"message": "not confirmed within 1m30s",
		"signature": "5sig"
	}`, string(data))

	var decoded Error
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindConfirmationTimeout, decoded.Kind)
	assert.Equal(t, "5sig", decoded.Signature)
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	be := Errorf(KindZeroAmount, "zero")
	assert.Same(t, be, AsError(fmt.Errorf("wrapped: %w", be)))

	plain := errors.New("plain")
	converted := AsError(plain)
	assert.Equal(t, KindInternal, converted.Kind)
	assert.ErrorIs(t, converted, plain)
}
