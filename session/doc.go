// Package session coordinates a chat session over peer links.
//
// A Coordinator owns every link of the local node, the roster of connected
// identities, the connection state and the message log. Transport callbacks
// and user actions are serialized on one event loop goroutine, so no two
// frames are ever processed concurrently.
//
// Two strategies decide the topology:
//
//   - TwoPartySecureStrategy: one peer, ECDH key exchange on link open,
//     AES-GCM for every message. Sending before the exchange completed
//     fails with ErrChannelNotSecure.
//   - StarTopologyStrategy: a host relays member messages to every other
//     member and replays the history to newcomers. Messages are not
//     encrypted in this mode.
//
// Basic usage:
//
//	hub := transport.NewHub()
//	host, _ := session.New(session.Config{Mode: session.ModeGroup}, hub.NewTransport())
//	if err := host.Start(ctx); err != nil {
//		return err
//	}
//	room := host.State().LocalIdentity
//
//	member, _ := session.New(session.Config{Mode: session.ModeGroup, JoinRoom: room}, hub.NewTransport())
//	if err := member.Start(ctx); err != nil {
//		return err
//	}
//	member.SendText(ctx, "hello")
//
// Sender labels are a fixed prefix of the identity, so two identities that
// share a prefix cannot be told apart in the log.
package session
