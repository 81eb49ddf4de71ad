package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SilentToken is the reply an agent sends when it chooses not to answer.
const SilentToken = "NO_REPLY"

var (
	thinkingTagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<think>.*?</think>`),
		regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
		regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	}
	finalTagPattern          = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
	leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// CleanReply prepares an agent reply for a chat surface. Reasoning blocks and <final>
// wrappers are removed, "MEDIA:<url>" lines move into MediaURLs and repeated paragraphs
// collapse. ok is false when nothing is left to deliver, including silent replies.
func CleanReply(r Reply) (out Reply, ok bool) {
	out = Reply{MediaURLs: append([]string(nil), r.MediaURLs...)}

	text := stripThinkingTags(r.Text)
	text = finalTagPattern.ReplaceAllString(text, "")
	text, media := extractMediaLines(text)
	out.MediaURLs = append(out.MediaURLs, media...)
	text = collapseDuplicateBlocks(text)
	text = leadingBlankLinesPattern.ReplaceAllString(text, "")
	text = strings.TrimRight(text, " \t\r\n")

	if IsSilentReply(text) {
		text = ""
	}
	if text != r.Text {
		slog.Debug("agent reply cleaned", "original_len", len(r.Text), "cleaned_len", len(text), "media", len(media))
	}
	out.Text = text
	return out, out.Text != "" || len(out.MediaURLs) > 0
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return content
}

// extractMediaLines pulls "MEDIA:<ref>" lines out of text.
func extractMediaLines(content string) (string, []string) {
	if !strings.Contains(content, "MEDIA:") {
		return content, nil
	}
	var (
		kept  []string
		media []string
	)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if ref, found := strings.CutPrefix(trimmed, "MEDIA:"); found {
			if ref = strings.TrimSpace(ref); ref != "" {
				media = append(media, ref)
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), media
}

func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if n := len(result); n > 0 && trimmed == strings.TrimSpace(result[n-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

// IsSilentReply reports whether text is the silent token, alone or at either end.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == SilentToken {
		return true
	}
	if rest, found := strings.CutPrefix(trimmed, SilentToken); found && !isWordChar(rune(rest[0])) {
		return true
	}
	if before, found := strings.CutSuffix(trimmed, SilentToken); found && !isWordChar(rune(before[len(before)-1])) {
		return true
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
