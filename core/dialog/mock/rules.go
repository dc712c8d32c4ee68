// Package mock answers with canned replies chosen by keyword.
package mock

import (
	"context"
	"strings"
	"time"

	"github.com/koscakluka/ema-gateway/core/dialog"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
)

const DefaultFallback = "Sorry, I didn't understand that. Could you please say it again?"

// Rule answers Reply when the transcript contains any of Keywords.
type Rule struct {
	Intent   string
	Keywords []string
	Reply    string
}

func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:   "check_order_status",
			Keywords: []string{"status", "where is my order", "track"},
			Reply:    "Your order is on its way and should arrive within two days.",
		},
		{
			Intent:   "place_order",
			Keywords: []string{"order", "buy", "purchase"},
			Reply:    "Your order has been placed. Is there anything else I can help you with?",
		},
		{
			Intent:   "query_weather",
			Keywords: []string{"weather", "rain", "sunny"},
			Reply:    "It looks sunny today with a light breeze.",
		},
		{
			Intent:   "greeting",
			Keywords: []string{"hello", "hi ", "good morning"},
			Reply:    "Hello! How can I help you today?",
		},
	}
}

type Client struct {
	rules    []Rule
	fallback string
	delay    time.Duration
}

type Option func(*Client)

func WithRules(rules ...Rule) Option {
	return func(c *Client) { c.rules = rules }
}

func WithFallback(fallback string) Option {
	return func(c *Client) { c.fallback = fallback }
}

func WithDelay(delay time.Duration) Option {
	return func(c *Client) { c.delay = delay }
}

func NewClient(opts ...Option) *Client {
	c := &Client{rules: DefaultRules(), fallback: DefaultFallback}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Respond returns the reply of the first rule whose keyword appears in the
// transcript, or the fallback.
func (c *Client) Respond(ctx context.Context, transcript speechtotext.Transcript, _ ...dialog.TurnOption) (*dialog.Reply, error) {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	if rule, ok := c.Match(transcript.Text); ok {
		return &dialog.Reply{Text: rule.Reply}, nil
	}
	return &dialog.Reply{Text: c.fallback}, nil
}

func (c *Client) Match(text string) (Rule, bool) {
	text = " " + strings.ToLower(text) + " "
	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}
