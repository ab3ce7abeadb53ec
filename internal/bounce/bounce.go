// Package bounce classifies message subjects as automated delivery
// failure/bounce notices using a fixed prefix list. The prefix list and
// normalization algorithm are ported bit-exact from the reference
// implementation (inspired by the go-sisimai project's bounce subject
// heuristics).
package bounce

import "strings"

// Prefixes is the frozen set of normalized subject titles considered
// bounce/feedback notices. Order and membership must not change.
var Prefixes = map[string]struct{}{
	"abuse-report":            {},
	"auto":                    {},
	"auto-reply":              {},
	"automatic-reply":         {},
	"aws-notification":        {},
	"complaint-about":         {},
	"delivery-failure":        {},
	"delivery-notification":   {},
	"delivery-status":         {},
	"dmarc-ietf-dmarc":        {},
	"email-feedback":          {},
	"failed-delivery":         {},
	"failure-delivery":        {},
	"failure-notice":          {},
	"loop-alert":              {},
	"mail-could":              {},
	"mail-delivery":           {},
	"mail-failure":            {},
	"mail-system":             {},
	"message-delivery":        {},
	"message-frozen":          {},
	"non-recapitabile":        {},
	"non-remis":               {},
	"notice":                  {},
	"postmaster-notify":       {},
	"returned-mail":           {},
	"there-was":               {},
	"undeliverable":           {},
	"undeliverable-mail":      {},
	"undeliverable-message":   {},
	"undelivered-mail":        {},
	"warning":                 {},
}

// IsBounceSubject reports whether subject looks like an automated
// delivery failure or feedback notice.
func IsBounceSubject(subject string) bool {
	if subject == "" {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(subject))

	if rest, ok := strings.CutPrefix(s, "fwd:"); ok {
		s = strings.TrimSpace(rest)
	} else if rest, ok := strings.CutPrefix(s, "fw:"); ok {
		s = strings.TrimSpace(rest)
	}

	if strings.ContainsAny(s, "[]_") {
		s = strings.NewReplacer("[", " ", "]", " ", "_", " ").Replace(s)
	}

	s = strings.Join(strings.Fields(s), " ")

	words := strings.SplitN(s, " ", 3)
	first := ""
	if len(words) > 0 {
		first = words[0]
	}

	var title string
	if idx := strings.Index(first, ":"); idx >= 0 {
		title = first[:idx]
	} else {
		part2 := ""
		if len(words) > 1 {
			part2 = words[1]
		}
		if part2 == "" {
			title = first
		} else {
			title = first + "-" + part2
		}
	}

	title = strings.Trim(title, ":,*\"")

	_, ok := Prefixes[title]
	return ok
}
