package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/opd-ai/securesignal/session"
	"github.com/opd-ai/securesignal/summary"
)

const analysisTimeout = 45 * time.Second

// chatSession is the part of session.Coordinator the shell drives.
type chatSession interface {
	Connect(ctx context.Context, target string) error
	SendText(ctx context.Context, text string) (session.ChatMessage, error)
	Disconnect() error
	ClearMessages()
	State() session.ConnectionState
	Messages() []session.ChatMessage
	TextContents() []string
}

// shell reads user input lines and turns them into session actions.
type shell struct {
	chat       chatSession
	summarizer summary.Summarizer
	view       *printer
	// suggestions holds the last /replies result so "/send N" can use it.
	suggestions []string
}

func newShell(chat chatSession, s summary.Summarizer, view *printer) *shell {
	return &shell{chat: chat, summarizer: s, view: view}
}

// run processes lines from in until /quit, end of input or cancellation.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one input line. It reports true when the user quits.
func (s *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		s.view.info("/connect <id>  /disconnect  /roster  /status  /summary  /replies  /send <n>  /clear  /quit")
	case "/connect":
		if len(args) != 1 {
			s.view.warn("usage: /connect <id>")
			return false
		}
		if err := s.chat.Connect(ctx, args[0]); err != nil {
			s.view.warn(err.Error())
		}
	case "/disconnect":
		if err := s.chat.Disconnect(); err != nil {
			s.view.warn(err.Error())
		}
	case "/roster":
		s.view.roster(s.chat.State())
	case "/status":
		s.view.status(s.chat.State())
	case "/clear":
		s.chat.ClearMessages()
		s.view.info("messages cleared")
	case "/summary":
		s.summarize(ctx)
	case "/replies":
		s.suggest(ctx)
	case "/send":
		s.sendSuggestion(ctx, args)
	default:
		s.view.warn(fmt.Sprintf("unknown command %s, try /help", cmd))
	}
	return false
}

func (s *shell) send(ctx context.Context, text string) {
	_, err := s.chat.SendText(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrChannelNotSecure):
		s.view.warn("the channel is not secure yet, wait for the key exchange")
	case errors.Is(err, session.ErrNotConnected):
		s.view.warn("not connected to the room")
	default:
		s.view.warn(err.Error())
	}
}

func (s *shell) summarize(ctx context.Context) {
	texts := s.chat.TextContents()
	if len(texts) == 0 {
		s.view.info("nothing to summarize yet")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	s.view.info("analysing...")
	s.view.println(s.summarizer.Summarize(ctx, texts))
}

// suggest offers replies to the most recent message from someone else.
func (s *shell) suggest(ctx context.Context) {
	last, _, ok := lo.FindLastIndexOf(s.chat.Messages(), func(m session.ChatMessage) bool {
		return m.SenderRole == session.SenderPeer && m.Kind == session.KindText
	})
	if !ok {
		s.view.info("no message to reply to")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	s.suggestions = s.summarizer.SuggestReplies(ctx, last.Content)
	if len(s.suggestions) == 0 {
		s.view.info("no suggestions available")
		return
	}
	for i, r := range s.suggestions {
		s.view.println(fmt.Sprintf("  %d) %s", i+1, r))
	}
	s.view.info("use /send <n> to send one")
}

func (s *shell) sendSuggestion(ctx context.Context, args []string) {
	var n int
	if len(args) != 1 {
		s.view.warn("usage: /send <n>")
		return
	}
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 1 || n > len(s.suggestions) {
		s.view.warn("no such suggestion")
		return
	}
	s.send(ctx, s.suggestions[n-1])
}
