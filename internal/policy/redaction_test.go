package policy

import (
	"strings"
	"testing"
)

func TestRedactTranscript(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{
			name:    "email",
			in:      "my email is lan.student@example.com thanks",
			want:    "my email is [REDACTED_EMAIL] thanks",
			changed: true,
		},
		{
			name:    "phone",
			in:      "call me at +852 9123 4567 tomorrow",
			want:    "call me at [REDACTED_PHONE] tomorrow",
			changed: true,
		},
		{
			name:    "card",
			in:      "the card is 4111 1111 1111 1111 ok",
			changed: true,
		},
		{
			name:    "clean",
			in:      "I want to practise ordering food",
			want:    "I want to practise ordering food",
			changed: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := RedactTranscript(tc.in)
			if changed != tc.changed {
				t.Fatalf("changed = %v, want %v (got %q)", changed, tc.changed, got)
			}
			if tc.want != "" && got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			if tc.name == "card" && !strings.Contains(got, "[REDACTED_CARD]") {
				t.Fatalf("card not masked: %q", got)
			}
		})
	}
}
