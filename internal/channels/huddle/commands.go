package huddle

import "strings"

// controlCommands are chat commands handled by the host rather than the agent's reasoning.
// They bypass debouncing and, when text commands are allowed, mention gating.
var controlCommands = map[string]bool{
	"/reset":  true,
	"/new":    true,
	"/stop":   true,
	"/status": true,
	"/help":   true,
}

// ParseControlCommand returns the command word (e.g. "/reset") if the message starts with
// one, ignoring leading mention markup and a trailing "@botname" suffix.
func ParseControlCommand(content string) (string, bool) {
	text := strings.TrimSpace(mentionMarkupRe.ReplaceAllString(content, " "))
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.ToLower(strings.Fields(text)[0])
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}
	if !controlCommands[word] {
		return "", false
	}
	return word, true
}

// IsControlCommand reports whether content starts with a recognized control command.
func IsControlCommand(content string) bool {
	_, ok := ParseControlCommand(content)
	return ok
}
