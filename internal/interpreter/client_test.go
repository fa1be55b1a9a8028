package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herambskanda/teletrade/internal/intent"
)

func completionReply(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, models ...string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if len(models) == 0 {
		models = []string{"test/model-a"}
	}
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Models: models})
	require.NoError(t, err)
	return c, srv
}

func testMsg(text string) Message {
	return Message{Text: text, Source: "chan-1", ID: "m-1", At: time.Now()}
}

func TestInterpretBuySignal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		fmt.Fprint(w, completionReply(`{"signal": true, "symbol": "reliance", "side": "buy",
			"order_kind": "limit", "instrument": "equity", "quantity": 10, "price": 2500.5,
			"target": 2600, "stop_loss": 2450, "confidence": 0.92}`))
	})

	it, err := c.Interpret(context.Background(), testMsg("BUY RELIANCE 10 @ 2500.50 TGT 2600 SL 2450"))
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "RELIANCE", it.NormalizedSymbol())
	assert.Equal(t, intent.SideBuy, it.Side)
	assert.Equal(t, intent.KindLimit, it.Kind)
	assert.True(t, it.Price.Equal(decimal.RequireFromString("2500.5")))
	assert.Equal(t, "chan-1", it.SourceChannel)
	assert.NoError(t, it.Validate())
}

func TestInterpretOptionsSignal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionReply("```json\n"+`{"signal": true, "symbol": "NIFTY", "side": "buy",
			"order_kind": "market", "instrument": "options", "quantity": 50, "confidence": 0.8,
			"option": {"strike_price": 24000, "expiry": "2026-08-27", "option_type": "ce"}}`+"\n```"))
	})

	it, err := c.Interpret(context.Background(), testMsg("NIFTY 24000 CE buy 50 lots"))
	require.NoError(t, err)
	require.NotNil(t, it)
	require.NotNil(t, it.Option)
	assert.Equal(t, "CE", it.Option.OptionType)
	assert.True(t, it.Option.StrikePrice.Equal(decimal.NewFromInt(24000)))
	assert.NoError(t, it.Validate())
}

func TestInterpretChatterReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionReply(`{"signal": false}`))
	})

	it, err := c.Interpret(context.Background(), testMsg("good morning traders!"))
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestInterpretRejectsSchemaViolation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// signal true but no symbol/side
		fmt.Fprint(w, completionReply(`{"signal": true, "confidence": 2.5}`))
	})

	it, err := c.Interpret(context.Background(), testMsg("BUY ???"))
	assert.Error(t, err)
	assert.Nil(t, it)
}

func TestInterpretFallsBackToNextModel(t *testing.T) {
	var models []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == "test/model-a" {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error": {"message": "upstream overloaded"}}`)
			return
		}
		fmt.Fprint(w, completionReply(`{"signal": true, "symbol": "TCS", "side": "sell",
			"order_kind": "market", "quantity": 5, "confidence": 0.75}`))
	}, "test/model-a", "test/model-b")

	it, err := c.Interpret(context.Background(), testMsg("sell tcs 5 at market"))
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, []string{"test/model-a", "test/model-b"}, models)
	assert.Equal(t, intent.SideSell, it.Side)
}

func TestInterpretEmptyTextShortCircuits(t *testing.T) {
	c, err := NewClient(Config{Models: []string{"test/model-a"}})
	require.NoError(t, err)

	it, err := c.Interpret(context.Background(), testMsg("   "))
	require.NoError(t, err)
	assert.Nil(t, it)
}
