package agent

import (
	"reflect"
	"testing"
)

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name string
		in   Reply
		want Reply
		ok   bool
	}{
		{
			name: "plain",
			in:   Reply{Text: "hello"},
			want: Reply{Text: "hello"},
			ok:   true,
		},
		{
			name: "thinking stripped",
			in:   Reply{Text: "<think>plan the answer</think>\n\nThe answer is 4."},
			want: Reply{Text: "The answer is 4."},
			ok:   true,
		},
		{
			name: "final tags unwrapped",
			in:   Reply{Text: "<final>done</final>"},
			want: Reply{Text: "done"},
			ok:   true,
		},
		{
			name: "media lines extracted",
			in:   Reply{Text: "here is the chart\nMEDIA: /tmp/chart.png", MediaURLs: []string{"https://x/a.jpg"}},
			want: Reply{Text: "here is the chart", MediaURLs: []string{"https://x/a.jpg", "/tmp/chart.png"}},
			ok:   true,
		},
		{
			name: "duplicate paragraphs collapse",
			in:   Reply{Text: "same\n\nsame\n\nother"},
			want: Reply{Text: "same\n\nother"},
			ok:   true,
		},
		{
			name: "silent",
			in:   Reply{Text: "NO_REPLY"},
			want: Reply{},
			ok:   false,
		},
		{
			name: "silent with media still delivers",
			in:   Reply{Text: "NO_REPLY", MediaURLs: []string{"/tmp/a.png"}},
			want: Reply{MediaURLs: []string{"/tmp/a.png"}},
			ok:   true,
		},
		{
			name: "only thinking",
			in:   Reply{Text: "<thinking>nothing to say</thinking>"},
			want: Reply{},
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanReply(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got.Text != tt.want.Text {
				t.Errorf("text = %q, want %q", got.Text, tt.want.Text)
			}
			if len(got.MediaURLs) != 0 || len(tt.want.MediaURLs) != 0 {
				if !reflect.DeepEqual(got.MediaURLs, tt.want.MediaURLs) {
					t.Errorf("media = %v, want %v", got.MediaURLs, tt.want.MediaURLs)
				}
			}
		})
	}
}

func TestIsSilentReply(t *testing.T) {
	tests := map[string]bool{
		"NO_REPLY":             true,
		"  NO_REPLY\n":         true,
		"NO_REPLY.":            true,
		"ok. NO_REPLY":         true,
		"NO_REPLYING":          false,
		"say NO_REPLY_TOKEN x": false,
		"":                     false,
		"hello":                false,
	}
	for in, want := range tests {
		if got := IsSilentReply(in); got != want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", in, got, want)
		}
	}
}
