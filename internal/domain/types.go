package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree, "":
		return TierFree, nil
	case TierPro:
		return TierPro, nil
	}
	return "", ErrInvalidTier
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Content is either plain text or an ordered list of parts. It marshals to a
// JSON string when Parts is empty, and to an array otherwise.
type Content struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) Content {
	return Content{Text: s}
}

func (c Content) IsMultimodal() bool {
	return len(c.Parts) > 0
}

// String returns the textual portion of the content. Text parts are joined
// with newlines.
func (c Content) String() string {
	if !c.IsMultimodal() {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultimodal() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{Text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.New("content must be a string or an array of parts")
	}
	*c = Content{Parts: parts}
	return nil
}

type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// ProviderRouting is the upstream routing hint forwarded with every request.
type ProviderRouting struct {
	Order          []string `json:"order,omitempty"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Provider    *ProviderRouting `json:"provider,omitempty"`
}

// Completion is the outcome of one successful logical call.
type Completion struct {
	Text     string
	Model    string
	KeyIndex int
	Attempts int
	Rounds   int
	Latency  time.Duration
}
