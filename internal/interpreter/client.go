package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/logger"
)

const systemPrompt = `You extract trading instructions from chat messages of Indian stock market signal channels.
Respond with a single JSON object and nothing else.
If the message contains no actionable trading instruction, respond {"signal": false}.
Otherwise respond with:
{"signal": true, "symbol": "...", "side": "buy|sell|exit|modify|cancel",
 "order_kind": "market|limit|stop|stop_limit", "instrument": "equity|futures|options",
 "quantity": N, "price": N, "trigger": N, "target": N, "stop_loss": N,
 "ref_order_id": "...", "confidence": 0.0-1.0,
 "option": {"strike_price": N, "expiry": "YYYY-MM-DD", "option_type": "CE|PE"}}
Omit fields the message does not state. Never invent prices or quantities.
Confidence reflects how unambiguous the instruction is.`

// Config for the chat-completions interpreter.
type Config struct {
	BaseURL string
	APIKey  string
	// Models are tried in order; the next one takes over on transport or
	// provider errors.
	Models      []string
	Timeout     time.Duration
	Temperature float64
}

// Client calls an OpenAI-compatible chat-completions endpoint (OpenRouter in
// production) and validates the model output against a fixed schema before
// anything downstream sees it.
type Client struct {
	cfg    Config
	url    string
	schema *jsonschema.Schema
	httpc  *http.Client
}

var _ Interpreter = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("interpreter: at least one model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	url := strings.TrimRight(cfg.BaseURL, "/")
	if url == "" {
		url = "https://openrouter.ai/api/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions") + "/chat/completions"

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("interpreter: compiling output schema: %w", err)
	}
	return &Client{
		cfg:    cfg,
		url:    url,
		schema: schema,
		httpc:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient swaps the transport, used in tests.
func (c *Client) SetHTTPClient(h *http.Client) { c.httpc = h }

func (c *Client) Interpret(ctx context.Context, msg Message) (*intent.Intent, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, nil
	}

	var lastErr error
	for _, model := range c.cfg.Models {
		raw, err := c.complete(ctx, model, msg.Text)
		if err != nil {
			lastErr = err
			logger.Warnf("interpreter: model %s failed: %v", model, err)
			continue
		}
		return c.parse(raw, msg)
	}
	return nil, fmt.Errorf("interpreter: all models failed: %w", lastErr)
}

func (c *Client) complete(ctx context.Context, model, text string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": text},
		},
		"response_format": map[string]string{"type": "json_object"},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		if m := gjson.GetBytes(payload, "error.message"); m.Exists() {
			return "", fmt.Errorf("provider status %d: %s", resp.StatusCode, m.String())
		}
		return "", fmt.Errorf("provider status %d", resp.StatusCode)
	}

	content := gjson.GetBytes(payload, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("provider returned empty content")
	}
	return content, nil
}

// parse validates the model output and maps it to an intent. Malformed
// output is an error, not a guess.
func (c *Client) parse(raw string, msg Message) (*intent.Intent, error) {
	raw = stripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("interpreter: output is not JSON: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("interpreter: output failed schema: %w", err)
	}

	g := gjson.Parse(raw)
	if !g.Get("signal").Bool() {
		return nil, nil
	}

	it := &intent.Intent{
		Symbol:        g.Get("symbol").String(),
		Side:          intent.Side(g.Get("side").String()),
		Kind:          intent.OrderKind(g.Get("order_kind").String()),
		Instrument:    intent.InstrumentType(g.Get("instrument").String()),
		Quantity:      decFromResult(g.Get("quantity")),
		Price:         decFromResult(g.Get("price")),
		Trigger:       decFromResult(g.Get("trigger")),
		Target:        decFromResult(g.Get("target")),
		StopLoss:      decFromResult(g.Get("stop_loss")),
		RefOrderID:    g.Get("ref_order_id").String(),
		Confidence:    g.Get("confidence").Float(),
		SourceChannel: msg.Source,
		RawMessageID:  msg.ID,
		ArrivedAt:     msg.At,
	}
	if it.Kind == "" {
		it.Kind = intent.KindMarket
	}
	if it.Instrument == "" {
		it.Instrument = intent.InstrumentEquity
	}
	if opt := g.Get("option"); opt.Exists() {
		it.Option = &intent.OptionDetail{
			StrikePrice: decFromResult(opt.Get("strike_price")),
			Expiry:      opt.Get("expiry").String(),
			OptionType:  strings.ToUpper(opt.Get("option_type").String()),
		}
	}
	if it.ArrivedAt.IsZero() {
		it.ArrivedAt = time.Now()
	}
	return it, nil
}

func decFromResult(r gjson.Result) decimal.Decimal {
	if !r.Exists() {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.Raw)
	if err != nil {
		return decimal.NewFromFloat(r.Float())
	}
	return d
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
