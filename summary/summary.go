// Package summary provides best-effort conversation analysis: a short
// summary with a tone assessment, and quick reply suggestions.
//
// Every failure degrades to a fixed message or an empty list. Nothing in
// this package can break a chat session.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// MaxContextMessages is how many of the most recent messages are sent for
// summarization.
const MaxContextMessages = 10

// Fallback texts returned instead of an error.
const (
	MsgNotConfigured = "Summary unavailable: no API key configured."
	MsgNoAnalysis    = "Could not analyse the conversation."
	MsgUnavailable   = "Could not reach the AI service."
)

var (
	// ErrNotConfigured indicates the generator has no credentials.
	ErrNotConfigured = errors.New("summarizer not configured")

	// ErrEmptyResponse indicates the generator returned no text.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnexpectedFormat indicates a reply list that could not be parsed.
	ErrUnexpectedFormat = errors.New("unexpected reply format")
)

// Generator produces text for a prompt. When jsonOutput is set the answer
// is requested as JSON.
type Generator interface {
	Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error)
}

// Summarizer is what the chat front end consumes.
type Summarizer interface {
	Summarize(ctx context.Context, messages []string) string
	SuggestReplies(ctx context.Context, lastMessage string) []string
}

// Service implements Summarizer over a Generator.
type Service struct {
	gen Generator
}

// NewService returns a Service. A nil generator yields the not-configured
// fallbacks.
func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

// Summarize summarizes the last MaxContextMessages entries of messages and
// assesses their tone.
func (s *Service) Summarize(ctx context.Context, messages []string) string {
	if s.gen == nil {
		return MsgNotConfigured
	}

	recent := messages
	if len(recent) > MaxContextMessages {
		recent = recent[len(recent)-MaxContextMessages:]
	}

	prompt := fmt.Sprintf(`You are a privacy-minded chat assistant. Briefly summarize the following conversation and describe its emotional tone.

Conversation:
%s`, strings.Join(recent, "\n"))

	text, err := s.gen.Generate(ctx, prompt, false)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return MsgNotConfigured
	case errors.Is(err, ErrEmptyResponse):
		return MsgNoAnalysis
	case err != nil:
		logrus.WithFields(logrus.Fields{
			"function": "Summarize",
			"messages": len(recent),
			"error":    err.Error(),
		}).Warn("Summarization failed")
		return MsgUnavailable
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return MsgNoAnalysis
	}
	return text
}

// SuggestReplies asks for three short replies to lastMessage. Any failure
// yields an empty list.
func (s *Service) SuggestReplies(ctx context.Context, lastMessage string) []string {
	if s.gen == nil || strings.TrimSpace(lastMessage) == "" {
		return []string{}
	}

	prompt := fmt.Sprintf(`Suggest 3 short replies (under 10 words each) to this message. Answer with a JSON array of strings: %q`, lastMessage)

	text, err := s.gen.Generate(ctx, prompt, true)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SuggestReplies",
			"error":    err.Error(),
		}).Debug("Reply suggestion failed")
		return []string{}
	}

	replies, err := ParseReplies(text)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SuggestReplies",
			"error":    err.Error(),
		}).Debug("Reply suggestion unparseable")
		return []string{}
	}
	return replies
}

// ParseReplies extracts a reply list from a model answer. Markdown code
// fences are stripped; a bare array or an object with a "replies" array is
// accepted. Blank entries are dropped.
func ParseReplies(text string) ([]string, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}

	var list []string
	if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
		var wrapped struct {
			Replies []string `json:"replies"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil || wrapped.Replies == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedFormat, preview(cleaned))
		}
		list = wrapped.Replies
	}

	return lo.FilterMap(list, func(r string, _ int) (string, bool) {
		r = strings.TrimSpace(r)
		return r, r != ""
	}), nil
}

// preview shortens s for error text without splitting a rune.
func preview(s string) string {
	const limit = 40
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
