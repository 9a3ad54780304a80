package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"

	"github.com/opd-ai/securesignal/session"
)

// printer writes session output. Listeners call it from the session's
// event loop while the shell writes from the input goroutine.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	last session.ConnectionState
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, s)
}

func (p *printer) message(m session.ChatMessage) {
	stamp := m.Timestamp.Format("15:04:05")
	lock := ""
	if m.Encrypted {
		lock = " [e2e]"
	}

	var line string
	switch m.SenderRole {
	case session.SenderSystem:
		line = color.FgGray.Render(fmt.Sprintf("[%s] * %s", stamp, m.Content))
	case session.SenderMe:
		line = fmt.Sprintf("[%s] %s%s: %s", stamp, color.FgGreen.Render("me"), lock, m.Content)
	default:
		line = fmt.Sprintf("[%s] %s%s: %s", stamp, color.FgCyan.Render(m.SenderIdentity), lock, m.Content)
	}
	p.println(line)
}

// state prints status and security transitions only.
func (p *printer) state(s session.ConnectionState) {
	p.mu.Lock()
	prev := p.last
	p.last = s
	p.mu.Unlock()

	if s.Status != prev.Status {
		p.println(color.FgYellow.Render(fmt.Sprintf("-- %s", s.Status)))
	}
	if s.Secure != prev.Secure {
		if s.Secure {
			p.println(color.FgGreen.Render("-- channel secure"))
		} else if prev.Status == session.StatusConnected {
			p.println(color.FgRed.Render("-- channel not secure"))
		}
	}
}

func (p *printer) banner(s session.ConnectionState) {
	p.println(color.New(color.OpBold).Render("Your ID: ") + s.LocalIdentity)
	if s.Role == session.RoleMember {
		p.println(fmt.Sprintf("Room: %s", s.RoomIdentity))
		return
	}
	p.println("Share your ID so others can connect. Type /help for commands.")
}

func (p *printer) warn(s string) {
	p.println(color.FgRed.Render("! " + s))
}

func (p *printer) info(s string) {
	p.println(color.FgGray.Render(s))
}

func (p *printer) roster(s session.ConnectionState) {
	if len(s.Roster) == 0 {
		p.info("nobody is connected")
		return
	}
	lines := make([]string, 0, len(s.Roster))
	for _, id := range s.Roster {
		lines = append(lines, fmt.Sprintf("  %s (%s)", session.DisplayLabel(id), id))
	}
	p.println(strings.Join(lines, "\n"))
}

func (p *printer) status(s session.ConnectionState) {
	secure := "no"
	if s.Secure {
		secure = "yes"
	}
	p.println(fmt.Sprintf("role=%s status=%s secure=%s id=%s room=%s",
		s.Role, s.Status, secure, s.LocalIdentity, s.RoomIdentity))
	if s.Error != "" {
		p.warn("last error: " + s.Error)
	}
}
