package tutor

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

const MaxImageBytes = 5 << 20

var imageTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Attachment is an image sent with a user turn.
type Attachment struct {
	Data []byte
}

// DecodeAttachment accepts raw base64 or a data URL.
func DecodeAttachment(encoded string) (*Attachment, error) {
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", domain.ErrInvalidAttachment)
	}
	return &Attachment{Data: data}, nil
}

// MIMEType sniffs the content type of the image bytes.
func (a *Attachment) MIMEType() string {
	return mimetype.Detect(a.Data).String()
}

// Validate checks size and type.
func (a *Attachment) Validate() error {
	if len(a.Data) == 0 {
		return fmt.Errorf("empty image: %w", domain.ErrInvalidAttachment)
	}
	if len(a.Data) > MaxImageBytes {
		return fmt.Errorf("image is %d bytes, limit %d: %w", len(a.Data), MaxImageBytes, domain.ErrInvalidAttachment)
	}
	if mt := a.MIMEType(); !slices.Contains(imageTypes, mt) {
		return fmt.Errorf("unsupported image type %s: %w", mt, domain.ErrInvalidAttachment)
	}
	return nil
}

// DataURL encodes the image for an image_url content part.
func (a *Attachment) DataURL() string {
	return "data:" + a.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// userMessage builds the user turn, multimodal when an image is attached.
func userMessage(text string, img *Attachment) domain.Message {
	if img == nil {
		return domain.NewUserMessage(text)
	}
	parts := make([]domain.ContentPart, 0, 2)
	if text != "" {
		parts = append(parts, domain.ContentPart{Type: "text", Text: text})
	}
	parts = append(parts, domain.ContentPart{
		Type:     "image_url",
		ImageURL: &domain.ImageURL{URL: img.DataURL()},
	})
	return domain.Message{Role: domain.RoleUser, Content: domain.Content{Parts: parts}}
}
