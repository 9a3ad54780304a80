// Package limits provides the message size constants and validation
// functions shared by the securesignal packages.
//
// # Size Hierarchy
//
//   - MaxTextMessage (16 KiB): the largest chat message a user may send.
//   - MaxEncryptedMessage: MaxTextMessage plus the 16-byte AES-GCM tag.
//   - MaxFrameSize (about 100 KiB): the largest serialized frame accepted from a
//     transport. Transports reject longer frames before allocating for them.
//
// # Validation Functions
//
// Each validation function rejects empty input and wraps ErrMessageTooLarge
// with the actual and maximum sizes:
//
//	if err := limits.ValidateTextMessage(text); err != nil {
//	    return err
//	}
//
// Callers can test the error class with errors.Is:
//
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // reject
//	}
package limits
