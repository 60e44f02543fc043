package policy

import "testing"

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{"email", "write me at sam@example.com please", "write me at [REDACTED_EMAIL] please", true},
		{"phone", "call +1 555-123-4567 tomorrow", "call [REDACTED_PHONE] tomorrow", true},
		{"card", "my card is 4111 1111 1111 1111 ok", "my card is [REDACTED_CARD] ok", true},
		{"clean", "nothing sensitive here", "nothing sensitive here", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := RedactPII(tc.in)
			if got != tc.want {
				t.Fatalf("RedactPII(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if changed != tc.changed {
				t.Fatalf("changed = %v, want %v", changed, tc.changed)
			}
		})
	}
}
