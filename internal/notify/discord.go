package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord caps an embed at 25 fields.
const discordMaxFields = 25

var discordColors = map[string]int{
	EventGameSettled: 0x3498DB,
	EventGameResult:  0x2ECC71,
}

type discordWebhook struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color,omitempty"`
	Fields    []discordField `json:"fields,omitempty"`
	Footer    *discordFooter `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// DiscordSender posts each game notification to a Discord webhook as one
// embed: a field per game detail, coloured by event.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for a webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "betx",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts msg as an embed. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(discordWebhook{
		Username: d.username,
		Embeds:   []discordEmbed{d.embed(msg)},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// embed folds fields past the Discord limit into a final count.
func (d *DiscordSender) embed(msg Message) discordEmbed {
	e := discordEmbed{
		Title:     msg.Title,
		Color:     discordColors[msg.Event],
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	if msg.GameID != nil {
		e.Footer = &discordFooter{Text: fmt.Sprintf("%s · game %s", msg.Event, msg.GameID)}
	}

	fields := msg.Fields
	var hidden int
	if len(fields) > discordMaxFields {
		hidden = len(fields) - (discordMaxFields - 1)
		fields = fields[:discordMaxFields-1]
	}
	for _, f := range fields {
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if hidden > 0 {
		e.Fields = append(e.Fields, discordField{Name: "more", Value: fmt.Sprintf("%d more not shown", hidden)})
	}
	return e
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
