// Package notify delivers operator-visible notifications: a dropped
// submission, a dead-lettered event, or any other fatal-adjacent
// condition the bot surfaces per spec.md §7.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Sink delivers a formatted notification somewhere an operator will
// see it.
type Sink interface {
	Notify(ctx context.Context, botName, poolAddress, body string) error
}

// MultiSink fans a notification out to every configured sink,
// collecting (not short-circuiting on) individual delivery errors.
type MultiSink struct {
	Sinks []Sink
}

// Notify implements Sink.
func (m MultiSink) Notify(ctx context.Context, botName, poolAddress, body string) error {
	var firstErr error
	for _, s := range m.Sinks {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, botName, poolAddress, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StdoutSink writes notifications to stdout; used when no webhook is
// configured.
type StdoutSink struct {
	Writer io.Writer
}

// NewStdoutSink constructs a StdoutSink writing to os.Stdout.
func NewStdoutSink() StdoutSink {
	return StdoutSink{Writer: os.Stdout}
}

// Notify implements Sink.
func (s StdoutSink) Notify(ctx context.Context, botName, poolAddress, body string) error {
	w := s.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintf(w, "[%s] *%s*: \n*Pool Address*: %s\n%s\n", time.Now().UTC().Format(time.RFC3339), botName, poolAddress, body)
	return err
}

// webhookSink is the shared HTTP-POST-JSON plumbing for Slack and
// Discord, which differ only in field name (Slack's "text" vs
// Discord's "content").
type webhookSink struct {
	url     string
	field   string
	client  *http.Client
}

func newWebhookSink(url, field string) webhookSink {
	return webhookSink{url: url, field: field, client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify implements Sink.
func (s webhookSink) Notify(ctx context.Context, botName, poolAddress, body string) error {
	text := fmt.Sprintf("*%s*: \n*Pool Address*: %s\n%s", botName, poolAddress, body)
	payload, err := json.Marshal(map[string]string{s.field: text})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackSink posts to a Slack incoming-webhook URL.
type SlackSink struct{ webhookSink }

// NewSlackSink constructs a SlackSink.
func NewSlackSink(webhookURL string) SlackSink {
	return SlackSink{webhookSink: newWebhookSink(webhookURL, "text")}
}

// DiscordSink posts to a Discord webhook URL.
type DiscordSink struct{ webhookSink }

// NewDiscordSink constructs a DiscordSink.
func NewDiscordSink(webhookURL string) DiscordSink {
	return DiscordSink{webhookSink: newWebhookSink(webhookURL, "content")}
}

// FromConfig builds the sink the operator's configuration calls for:
// both Slack and Discord if both are set, either alone if only one is
// set, or stdout if neither is configured.
func FromConfig(slackWebhook, discordWebhook string) Sink {
	var sinks []Sink
	if slackWebhook != "" {
		sinks = append(sinks, NewSlackSink(slackWebhook))
	}
	if discordWebhook != "" {
		sinks = append(sinks, NewDiscordSink(discordWebhook))
	}
	if len(sinks) == 0 {
		return NewStdoutSink()
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return MultiSink{Sinks: sinks}
}
