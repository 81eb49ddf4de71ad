package huddle

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	mentionMarkupRe = regexp.MustCompile(`<@([A-Za-z0-9_.\-]+)>`)
	anyMentionRe    = regexp.MustCompile(`@\w+`)
)

// MentionInput carries every signal the gate looks at for one group message.
type MentionInput struct {
	Content           string
	BotUserID         string
	Patterns          []*regexp.Regexp
	RequireMention    bool
	AllowTextCommands bool
	IsControlCommand  bool
}

// MentionDecision is the gate's verdict.
type MentionDecision struct {
	WasMentioned          bool // explicit markup or a pattern matched
	EffectiveWasMentioned bool // WasMentioned, or forced by an authorized command
	HasAnyMention         bool // some @-token is present, not necessarily the bot
	ShouldSkip            bool
}

// EvaluateMention decides whether a group message reaches dispatch. When neither the
// bot identity nor any pattern is known, mentions cannot be detected and nothing is
// skipped.
func EvaluateMention(in MentionInput) MentionDecision {
	explicit := in.BotUserID != "" && hasMentionOf(in.Content, in.BotUserID)
	matched := false
	for _, re := range in.Patterns {
		if re.MatchString(in.Content) {
			matched = true
			break
		}
	}

	d := MentionDecision{
		WasMentioned:  explicit || matched,
		HasAnyMention: hasAnyMention(in.Content),
	}
	commandBypass := in.IsControlCommand && in.AllowTextCommands
	d.EffectiveWasMentioned = d.WasMentioned || commandBypass

	if in.BotUserID == "" && len(in.Patterns) == 0 {
		return d
	}
	d.ShouldSkip = in.RequireMention && !commandBypass && !d.WasMentioned
	return d
}

func hasAnyMention(content string) bool {
	return anyMentionRe.MatchString(content) || mentionMarkupRe.MatchString(content)
}

func hasMentionOf(content, userID string) bool {
	for _, m := range mentionMarkupRe.FindAllStringSubmatch(content, -1) {
		if m[1] == userID {
			return true
		}
	}
	return false
}

// compileMentionPatterns compiles configured patterns plus an @username pattern for the
// bot. Invalid patterns are logged and skipped.
func compileMentionPatterns(patterns []string, botUsername string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns)+1)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("huddle: invalid mention pattern", "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	if botUsername != "" {
		out = append(out, regexp.MustCompile(`(?i)(^|[^\w])@`+regexp.QuoteMeta(botUsername)+`\b`))
	}
	return out
}

// stripBotMention removes the bot's own mention markup so the agent sees plain text.
func stripBotMention(content, botUserID string) string {
	if botUserID == "" {
		return content
	}
	out := mentionMarkupRe.ReplaceAllStringFunc(content, func(m string) string {
		if m == "<@"+botUserID+">" {
			return ""
		}
		return m
	})
	return strings.TrimSpace(strings.ReplaceAll(out, "  ", " "))
}
