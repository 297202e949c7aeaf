package moderation

import "regexp"

// blocklist holds basic English and Romanian profanity and insults. Terms
// match as whole words; RE2's \b is ASCII-only, so the boundaries are
// spelled out over Unicode letters and digits.
var blocklist = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(` +
	`fuck|shit|bitch|asshole|idiot|moron|` +
	`pula|dracu|fut|jigodie|nesimtit|prost` +
	`)(?:[^\p{L}\p{N}_]|$)`)

// Local classifies text against the blocklist only.
func Local(text string) Result {
	if blocklist.MatchString(text) {
		return Result{
			Allowed:    false,
			Flagged:    true,
			Provider:   ProviderLocal,
			Categories: []string{CategoryBlocklist},
		}
	}
	return Result{Allowed: true, Provider: ProviderLocal, Categories: []string{}}
}
