package session

import (
	"fmt"
	"time"
)

// Mode selects the topology strategy.
type Mode string

const (
	// ModeDirect is a two-party encrypted session.
	ModeDirect Mode = "direct"
	// ModeGroup is a host-relayed room without encryption.
	ModeGroup Mode = "group"
)

// Role of the local node in the session.
type Role uint8

const (
	RoleUndetermined Role = iota
	RoleHost
	RoleMember
)

func (r Role) String() string {
	switch r {
	case RoleUndetermined:
		return "undetermined"
	case RoleHost:
		return "host"
	case RoleMember:
		return "member"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Status is the connection status shown to the user.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// SenderRole tells who produced a ChatMessage.
type SenderRole uint8

const (
	SenderMe SenderRole = iota
	SenderPeer
	SenderSystem
)

func (s SenderRole) String() string {
	switch s {
	case SenderMe:
		return "me"
	case SenderPeer:
		return "peer"
	case SenderSystem:
		return "system"
	default:
		return fmt.Sprintf("sender(%d)", uint8(s))
	}
}

// MessageKind distinguishes chat text from status notices.
type MessageKind uint8

const (
	KindText MessageKind = iota
	KindSystem
)

func (k MessageKind) String() string {
	if k == KindSystem {
		return "system"
	}
	return "text"
}

// ChatMessage is one entry of the message log. It is never modified after
// it has been appended.
type ChatMessage struct {
	ID         string
	SenderRole SenderRole
	// SenderIdentity is the display label of the remote sender, empty for
	// local and system messages.
	SenderIdentity string
	// Origin is the full identity of the sender, empty for system messages.
	Origin    string
	Content   string
	Timestamp time.Time
	Kind      MessageKind
	Encrypted bool
}

// ConnectionState is a snapshot of the session. It shares no memory with
// the coordinator.
type ConnectionState struct {
	Role          Role
	LocalIdentity string
	RoomIdentity  string
	Secure        bool
	Status        Status
	Error         string
	Roster        []string
}

func (s ConnectionState) equal(other ConnectionState) bool {
	if s.Role != other.Role || s.LocalIdentity != other.LocalIdentity ||
		s.RoomIdentity != other.RoomIdentity || s.Secure != other.Secure ||
		s.Status != other.Status || s.Error != other.Error ||
		len(s.Roster) != len(other.Roster) {
		return false
	}
	for i := range s.Roster {
		if s.Roster[i] != other.Roster[i] {
			return false
		}
	}
	return true
}

// labelLength is the number of identity characters shown as a sender label.
const labelLength = 8

// DisplayLabel derives the short label shown for an identity. Two
// identities sharing a prefix get the same label.
func DisplayLabel(identity string) string {
	if len(identity) <= labelLength {
		return identity
	}
	return identity[:labelLength]
}
