package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestMaxEncryptedMessageCalculation verifies that MaxEncryptedMessage is
// MaxPlaintext plus the GCM tag
func TestMaxEncryptedMessageCalculation(t *testing.T) {
	expected := MaxTextMessage + EncryptionOverhead
	if MaxEncryptedMessage != expected {
		t.Errorf("MaxEncryptedMessage = %d, want %d", MaxEncryptedMessage, expected)
	}
}

// TestFrameSizeFitsEncryptedMessage verifies a maximal ciphertext still fits
// in a frame after base64 expansion
func TestFrameSizeFitsEncryptedMessage(t *testing.T) {
	encoded := (MaxEncryptedMessage + 2) / 3 * 4
	if encoded+1024 > MaxFrameSize {
		t.Errorf("MaxFrameSize %d too small for encoded ciphertext of %d bytes", MaxFrameSize, encoded)
	}
}

func TestValidateTextMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"empty", "", ErrMessageEmpty},
		{"one byte", "a", nil},
		{"at limit", strings.Repeat("a", MaxTextMessage), nil},
		{"over limit", strings.Repeat("a", MaxTextMessage+1), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTextMessage(tt.text)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateEncryptedMessage(t *testing.T) {
	if err := ValidateEncryptedMessage(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
	if err := ValidateEncryptedMessage(make([]byte, MaxEncryptedMessage)); err != nil {
		t.Errorf("unexpected error at limit: %v", err)
	}
	if err := ValidateEncryptedMessage(make([]byte, MaxEncryptedMessage+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestValidateFrame(t *testing.T) {
	if err := ValidateFrame(make([]byte, MaxFrameSize)); err != nil {
		t.Errorf("unexpected error at limit: %v", err)
	}

	err := ValidateFrame(make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("error should carry size context, got %q", err.Error())
	}
}
