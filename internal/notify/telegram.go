package notify

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// telegramTextLimit is the sendMessage limit, counted after entity parsing.
const telegramTextLimit = 4096

// TelegramSender posts to one chat through the Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a sender for the bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return NewTelegramSenderWithAPI(DefaultTelegramAPI, token, chatID)
}

// NewTelegramSenderWithAPI points the sender at a different Bot API root.
func NewTelegramSenderWithAPI(apiURL, token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

// Send renders the title in bold and the body as preformatted HTML, so symbol
// names with underscores and route arrows survive untouched.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	room := telegramTextLimit - utf8.RuneCountInString(title) - 1
	text := "<b>" + html.EscapeString(title) + "</b>\n<pre>" +
		html.EscapeString(truncateRunes(message, room)) + "</pre>"

	return postJSON(ctx, t.client, t.Name(), t.apiURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, parseTelegramError)
}

// Name returns "telegram".
func (t *TelegramSender) Name() string {
	return "telegram"
}

// parseTelegramError reads the Bot API error envelope, e.g.
// {"ok":false,"description":"Too Many Requests","parameters":{"retry_after":3}}.
func parseTelegramError(body []byte) (string, time.Duration) {
	var env struct {
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if json.Unmarshal(body, &env) != nil {
		return "", 0
	}
	return env.Description, time.Duration(env.Parameters.RetryAfter) * time.Second
}
