package openrouter

import (
	"encoding/json"
	"strings"
)

// extractor pulls completion text out of the first choice. It reports false
// when the choice does not have its shape or the text is empty.
type extractor func(choice json.RawMessage) (string, bool)

// extractors are tried in order; the first match wins.
var extractors = []extractor{
	messageContent,
	choiceContent,
	choiceText,
	rawChoice,
}

type completionBody struct {
	Choices []json.RawMessage `json:"choices"`
}

// ExtractText returns the completion text of a response body, or false when
// no known shape matches.
func ExtractText(body []byte) (string, bool) {
	var resp completionBody
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}

	for _, extract := range extractors {
		if text, ok := extract(resp.Choices[0]); ok {
			return text, true
		}
	}
	return "", false
}

// messageContent matches choices[0].message.content.
func messageContent(choice json.RawMessage) (string, bool) {
	var c struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if json.Unmarshal(choice, &c) != nil || c.Message == nil {
		return "", false
	}
	return stringValue(c.Message.Content)
}

// choiceContent matches choices[0].content as a string, an object with a
// text field, or an array of such objects joined by newlines.
func choiceContent(choice json.RawMessage) (string, bool) {
	var c struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(choice, &c) != nil || len(c.Content) == 0 {
		return "", false
	}

	if s, ok := stringValue(c.Content); ok {
		return s, true
	}

	var part textPart
	if json.Unmarshal(c.Content, &part) == nil && part.Text != "" {
		return part.Text, true
	}

	var parts []textPart
	if json.Unmarshal(c.Content, &parts) == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n"), true
		}
	}
	return "", false
}

// choiceText matches choices[0].text.
func choiceText(choice json.RawMessage) (string, bool) {
	var c struct {
		Text json.RawMessage `json:"text"`
	}
	if json.Unmarshal(choice, &c) != nil {
		return "", false
	}
	return stringValue(c.Text)
}

// rawChoice matches a choice that is itself a string.
func rawChoice(choice json.RawMessage) (string, bool) {
	return stringValue(choice)
}

type textPart struct {
	Text string `json:"text"`
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}
