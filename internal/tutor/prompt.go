package tutor

import "strings"

// ComposeSystemPrompt builds the system message from the mode instructions,
// the subject and the prompt written for the session.
func ComposeSystemPrompt(modePrompt, subject, prompt string) string {
	base := modePrompt + subject
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		if base == "" {
			return prompt
		}
		return base + ", " + prompt
	}
	return base
}

// EstimateTokens approximates a token count with a whitespace word count.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}
