package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromResult_Succeeded(t *testing.T) {
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &burn.Result{
		ID:          "b-1",
		State:       burn.StateSucceeded,
		Status:      burn.StatusConfirmed,
		Signature:   "5sig",
		Signer:      "signer",
		Mint:        "mint",
		Amount:      1_000_000,
		Decimals:    6,
		FeeLamports: 10_000_000,
		Slot:        42,
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
	}

	event := FromResult(res)
	assert.Equal(t, "succeeded", event.State)
	assert.Equal(t, "confirmed", event.Status)
	assert.True(t, event.Submitted)
	assert.Equal(t, uint64(42), event.Slot)
	assert.Empty(t, event.ErrorKind)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestFromResult_Failed(t *testing.T) {
	res := &burn.Result{
		ID:        "b-2",
		State:     burn.StateFailed,
		Status:    burn.StatusPending,
		Signature: "5sig",
		Err: &burn.Error{
			Kind:      burn.KindConfirmationTimeout,
			Message:   "not confirmed within 1m30s",
			Signature: "5sig",
		},
	}

	event := FromResult(res)
	assert.Equal(t, "failed", event.State)
	assert.True(t, event.Submitted)
	assert.Equal(t, "confirmation_timeout", event.ErrorKind)
	assert.Equal(t, "ambiguous", event.Category)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error_kind":"confirmation_timeout"`)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "burns.failed", Subject("burns", "failed"))
	assert.Equal(t, "tokenburn.devnet.succeeded", Subject("tokenburn.devnet", "succeeded"))
}

func TestNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("publishes terminal results", func(t *testing.T) {
		mock := NewMockPublisher()
		hook := Notifier(mock, logger)

		hook(context.Background(), &burn.Result{ID: "a", State: burn.StateSucceeded, Status: burn.StatusConfirmed})
		hook(context.Background(), &burn.Result{ID: "b", State: burn.StateFailed})
		hook(context.Background(), nil)

		events := mock.GetPublishedEvents()
		require.Len(t, events, 2)
		assert.Equal(t, "a", events[0].ID)
		assert.Equal(t, "failed", events[1].State)
		assert.False(t, events[1].Submitted)
	})

	t.Run("publish failure is swallowed", func(t *testing.T) {
		mock := NewMockPublisher()
		mock.SetPublishError(errors.New("nats: connection closed"))
		hook := Notifier(mock, logger)

		assert.NotPanics(t, func() {
			hook(context.Background(), &burn.Result{ID: "a", State: burn.StateSucceeded})
		})
		assert.Zero(t, mock.GetPublishedEventCount())
	})
}
