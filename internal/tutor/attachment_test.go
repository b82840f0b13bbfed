package tutor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

func TestDecodeAttachment(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(pngBytes)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"raw base64", raw, false},
		{"data url", "data:image/png;base64," + raw, false},
		{"not base64", "%%%", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := DecodeAttachment(tt.input)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidAttachment) {
					t.Errorf("DecodeAttachment() error = %v, want ErrInvalidAttachment", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAttachment() error = %v", err)
			}
			if !bytes.Equal(a.Data, pngBytes) {
				t.Error("decoded bytes differ")
			}
		})
	}
}

func TestAttachment_Validate(t *testing.T) {
	big := append(append([]byte{}, pngBytes...), make([]byte, MaxImageBytes)...)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"png", pngBytes, false},
		{"gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"), false},
		{"empty", nil, true},
		{"text", []byte("hello"), true},
		{"too large", big, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Attachment{Data: tt.data}).Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidAttachment) {
				t.Errorf("Validate() error = %v, want ErrInvalidAttachment", err)
			}
		})
	}
}

func TestAttachment_DataURL(t *testing.T) {
	url := (&Attachment{Data: pngBytes}).DataURL()
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("DataURL() = %q", url)
	}
}

func TestUserMessage_ImageOnly(t *testing.T) {
	m := userMessage("", &Attachment{Data: pngBytes})
	if len(m.Content.Parts) != 1 || m.Content.Parts[0].Type != "image_url" {
		t.Errorf("content = %+v, want a single image part", m.Content)
	}
}

func TestComposeSystemPrompt(t *testing.T) {
	tests := []struct {
		mode, subject, prompt string
		want                  string
	}{
		{"Quiz me on ", "algebra", "", "Quiz me on algebra"},
		{"Quiz me on ", "algebra", " be strict ", "Quiz me on algebra, be strict"},
		{"", "", "free form", "free form"},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		if got := ComposeSystemPrompt(tt.mode, tt.subject, tt.prompt); got != tt.want {
			t.Errorf("ComposeSystemPrompt(%q, %q, %q) = %q, want %q", tt.mode, tt.subject, tt.prompt, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("  one two\nthree  "); got != 3 {
		t.Errorf("EstimateTokens() = %d, want 3", got)
	}
}
