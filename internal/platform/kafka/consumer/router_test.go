package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("routes by topic", func(t *testing.T) {
		var got []string
		r := NewRouter(logger, nil)
		r.Register("donation-events", HandlerFunc(func(_ context.Context, msg *Message) error {
			got = append(got, string(msg.Key))
			return nil
		}))

		require.NoError(t, r.Handle(context.Background(), &Message{Topic: "donation-events", Key: []byte("k1")}))
		assert.Equal(t, []string{"k1"}, got)
		assert.Equal(t, []string{"donation-events"}, r.Topics())
	})

	t.Run("unknown topic goes to fallback or is skipped", func(t *testing.T) {
		called := false
		withFallback := NewRouter(logger, HandlerFunc(func(context.Context, *Message) error {
			called = true
			return nil
		}))
		require.NoError(t, withFallback.Handle(context.Background(), &Message{Topic: "other"}))
		assert.True(t, called)

		require.NoError(t, NewRouter(logger, nil).Handle(context.Background(), &Message{Topic: "other"}))
	})
}

func TestDispatchRetriesThenDrops(t *testing.T) {
	attempts := 0
	c := &Consumer{
		handler: HandlerFunc(func(context.Context, *Message) error {
			attempts++
			return assert.AnError
		}),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxRetries: 2,
	}
	c.dispatch(context.Background(), &Message{Topic: "t"})
	assert.Equal(t, 3, attempts)
}
