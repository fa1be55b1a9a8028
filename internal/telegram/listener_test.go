package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herambskanda/teletrade/internal/interpreter"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []interpreter.Message
}

func (c *captureSink) Ingest(_ context.Context, msg interpreter.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return fmt.Sprintf("sig-%d", len(c.msgs)), nil
}

func (c *captureSink) all() []interpreter.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interpreter.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

const updatesBatch = `{
  "ok": true,
  "result": [
    {"update_id": 101, "channel_post": {"message_id": 9001, "date": 1756000000,
      "chat": {"username": "NiftySignals", "type": "channel"},
      "text": "BUY RELIANCE 10 @ 2500"}},
    {"update_id": 102, "channel_post": {"message_id": 9002, "date": 1756000001,
      "chat": {"username": "randomspam", "type": "channel"},
      "text": "join our premium group!!!"}},
    {"update_id": 103, "channel_post": {"message_id": 9003, "date": 1756000002,
      "chat": {"username": "niftysignals", "type": "channel"},
      "text": ""}}
  ]
}`

func TestListenerFiltersAndForwards(t *testing.T) {
	var offsets []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		n := len(offsets)
		mu.Unlock()
		if n == 1 {
			fmt.Fprint(w, updatesBatch)
			return
		}
		fmt.Fprint(w, `{"ok": true, "result": []}`)
	}))
	defer srv.Close()

	sink := &captureSink{}
	l := NewListener("tok", []string{"@NiftySignals"}, time.Second, sink)
	l.BaseURL = srv.URL
	l.Client = srv.Client()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	msgs := sink.all()
	require.Len(t, msgs, 1, "unlisted and empty messages must be dropped")
	assert.Equal(t, "BUY RELIANCE 10 @ 2500", msgs[0].Text)
	assert.Equal(t, "niftysignals", msgs[0].Source)
	assert.Equal(t, "9001", msgs[0].ID)

	// the second poll acknowledges everything from the first batch
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(offsets), 2)
	assert.Equal(t, "", offsets[0])
	assert.Equal(t, "104", offsets[1])
}

func TestListenerStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "result": []}`)
	}))
	defer srv.Close()

	l := NewListener("tok", []string{"chan"}, time.Second, &captureSink{})
	l.BaseURL = srv.URL
	l.Client = srv.Client()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}
