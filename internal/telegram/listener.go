package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/herambskanda/teletrade/internal/interpreter"
	"github.com/herambskanda/teletrade/internal/logger"
)

// Sink receives raw channel messages for interpretation and admission.
type Sink interface {
	Ingest(ctx context.Context, msg interpreter.Message) (string, error)
}

// Listener long-polls the Telegram bot API and forwards channel posts from
// allowed channels to the sink. Everything else is dropped at this
// boundary, before an interpreter call is spent on it.
type Listener struct {
	BotToken    string
	BaseURL     string
	PollTimeout time.Duration
	Client      *http.Client

	allowed map[string]bool
	sink    Sink
	offset  int64
}

func NewListener(botToken string, channels []string, pollTimeout time.Duration, sink Sink) *Listener {
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "@"))
		if ch != "" {
			allowed[ch] = true
		}
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Listener{
		BotToken:    botToken,
		BaseURL:     "https://api.telegram.org",
		PollTimeout: pollTimeout,
		Client:      &http.Client{Timeout: pollTimeout + 10*time.Second},
		allowed:     allowed,
		sink:        sink,
	}
}

// Run polls until ctx is done. Poll errors back off and retry; the loop
// only exits on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	logger.Infof("telegram: listener started, %d channels allowed", len(l.allowed))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := l.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("telegram: getUpdates failed: %v", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, upd := range updates {
			l.handleUpdate(ctx, upd)
		}
	}
}

func (l *Listener) getUpdates(ctx context.Context) ([]gjson.Result, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(l.PollTimeout.Seconds())))
	if l.offset > 0 {
		q.Set("offset", strconv.FormatInt(l.offset, 10))
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", l.BaseURL, l.BotToken, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.Get("ok").Bool() {
		return nil, fmt.Errorf("telegram api error: %s", parsed.Get("description").String())
	}
	return parsed.Get("result").Array(), nil
}

func (l *Listener) handleUpdate(ctx context.Context, upd gjson.Result) {
	if id := upd.Get("update_id").Int(); id >= l.offset {
		l.offset = id + 1
	}

	post := upd.Get("channel_post")
	if !post.Exists() {
		post = upd.Get("message")
	}
	if !post.Exists() {
		return
	}

	source := strings.ToLower(post.Get("chat.username").String())
	if source == "" {
		source = post.Get("chat.title").String()
	}
	if !l.allowed[strings.ToLower(source)] {
		logger.Debugf("telegram: dropping message from unlisted source %q", source)
		return
	}
	text := post.Get("text").String()
	if strings.TrimSpace(text) == "" {
		return
	}

	msg := interpreter.Message{
		Text:   text,
		Source: strings.ToLower(source),
		ID:     post.Get("message_id").String(),
		At:     time.Unix(post.Get("date").Int(), 0),
	}
	if msg.At.Unix() <= 0 {
		msg.At = time.Now()
	}

	sigID, err := l.sink.Ingest(ctx, msg)
	switch {
	case err != nil:
		logger.Errorf("telegram: ingest of message %s from %s failed: %v", msg.ID, msg.Source, err)
	case sigID != "":
		logger.Infof("telegram: message %s from %s admitted as signal %s", msg.ID, msg.Source, sigID)
	}
}
