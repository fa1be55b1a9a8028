package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier pushes operator-facing updates (rejections, kill switch trips,
// reconciliation flags) to a Telegram chat.
type Notifier struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  "https://api.telegram.org",
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SendText sends a text message with up to 3 retries.
func (n *Notifier) SendText(text string) error {
	if n.BotToken == "" || n.ChatID == "" {
		return fmt.Errorf("telegram notifier is not configured")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.BaseURL, n.BotToken)

	payload := map[string]any{
		"chat_id":    n.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}
