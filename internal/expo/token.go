package expo

import "regexp"

var (
	bracketTokenRe = regexp.MustCompile(`^Expo(nent)?PushToken\[.+\]$`)
	bareTokenRe    = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)
)

// IsPushToken reports whether s has the shape of an Expo push token.
func IsPushToken(s string) bool {
	return bracketTokenRe.MatchString(s) || bareTokenRe.MatchString(s)
}
