package huddle

import "testing"

func TestEvaluateMention(t *testing.T) {
	patterns := compileMentionPatterns([]string{`\bclaw\b`}, "huddlebot")

	tests := []struct {
		name string
		in   MentionInput
		want MentionDecision
	}{
		{
			name: "explicit markup",
			in:   MentionInput{Content: "<@bot> hi", BotUserID: "bot", Patterns: patterns, RequireMention: true},
			want: MentionDecision{WasMentioned: true, EffectiveWasMentioned: true, HasAnyMention: true},
		},
		{
			name: "username pattern",
			in:   MentionInput{Content: "hey @HuddleBot, ping", BotUserID: "bot", Patterns: patterns, RequireMention: true},
			want: MentionDecision{WasMentioned: true, EffectiveWasMentioned: true, HasAnyMention: true},
		},
		{
			name: "configured pattern",
			in:   MentionInput{Content: "Claw what time is it", BotUserID: "bot", Patterns: patterns, RequireMention: true},
			want: MentionDecision{WasMentioned: true, EffectiveWasMentioned: true},
		},
		{
			name: "someone else mentioned",
			in:   MentionInput{Content: "<@u7> look", BotUserID: "bot", Patterns: patterns, RequireMention: true},
			want: MentionDecision{HasAnyMention: true, ShouldSkip: true},
		},
		{
			name: "no mention required",
			in:   MentionInput{Content: "just chatting", BotUserID: "bot", Patterns: patterns, RequireMention: false},
			want: MentionDecision{},
		},
		{
			name: "authorized command",
			in:   MentionInput{Content: "/reset", BotUserID: "bot", Patterns: patterns, RequireMention: true, AllowTextCommands: true, IsControlCommand: true},
			want: MentionDecision{EffectiveWasMentioned: true},
		},
		{
			name: "commands disabled",
			in:   MentionInput{Content: "/reset", BotUserID: "bot", Patterns: patterns, RequireMention: true, IsControlCommand: true},
			want: MentionDecision{ShouldSkip: true},
		},
		{
			name: "unknown identity never skips",
			in:   MentionInput{Content: "anyone?", RequireMention: true},
			want: MentionDecision{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateMention(tt.in); got != tt.want {
				t.Errorf("EvaluateMention = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompileMentionPatternsSkipsInvalid(t *testing.T) {
	got := compileMentionPatterns([]string{"(", "  ", "ok"}, "")
	if len(got) != 1 || !got[0].MatchString("OK then") {
		t.Errorf("patterns = %v", got)
	}
}

func TestStripBotMention(t *testing.T) {
	tests := []struct {
		content, bot, want string
	}{
		{"<@bot> status report please", "bot", "status report please"},
		{"ask <@bot> and <@u2>", "bot", "ask and <@u2>"},
		{"line one\n<@bot> line two", "bot", "line one\n line two"},
		{"<@bot> hi", "", "<@bot> hi"},
	}
	for _, tt := range tests {
		if got := stripBotMention(tt.content, tt.bot); got != tt.want {
			t.Errorf("stripBotMention(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestParseControlCommand(t *testing.T) {
	tests := []struct {
		content string
		want    string
		ok      bool
	}{
		{"/reset", "/reset", true},
		{"  /NEW please", "/new", true},
		{"/status@huddlebot", "/status", true},
		{"<@bot> /stop", "/stop", true},
		{"/unknown", "", false},
		{"reset", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseControlCommand(tt.content)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseControlCommand(%q) = %q, %v; want %q, %v", tt.content, got, ok, tt.want, tt.ok)
		}
	}
	if !IsControlCommand("/help") || IsControlCommand("help") {
		t.Error("IsControlCommand mismatch")
	}
}
