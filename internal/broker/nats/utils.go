package nats

import (
	"strings"
)

// SubjectToken makes s safe to use as a single subject token, so a
// recipient such as "ops team" or "a.b@c.com" cannot add levels.
func SubjectToken(s string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		".", "_",
		",", "_",
		":", "_",
		"?", "_",
		"[", "_",
		"]", "_",
		"*", "_",
		">", "_",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

// JoinSubject joins prefix and the sanitised token; an empty prefix
// returns the token alone.
func JoinSubject(prefix, token string) string {
	token = SubjectToken(token)
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}
