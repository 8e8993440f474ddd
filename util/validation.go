package util

import (
	"regexp"
	"strings"
	"unicode"
)

// Pre-compiled regex for WebFinger username validation
var webFingerValidCharsRegex = regexp.MustCompile(`^[A-Za-z0-9\-._~!$&'()*+,;=]+$`)

// Hashtags: letters, digits, marks and underscores, not only digits
var hashtagRegex = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_]*[\p{L}\p{M}_][\p{L}\p{M}\p{N}_]*$`)

const maxHashtagLength = 100

// IsValidWebFingerUsername validates that a username meets WebFinger/ActivityPub requirements.
//
// WebFinger allows these characters without percent-encoding:
// A-Z a-z 0-9 - . _ ~ ! $ & ' ( ) * + , ; =
//
// Returns (true, "") if valid, or (false, "error message") if invalid.
func IsValidWebFingerUsername(username string) (bool, string) {
	if len(username) == 0 {
		return false, "Username must be at least 1 character"
	}

	if !webFingerValidCharsRegex.MatchString(username) {
		return false, "Username contains invalid characters. Only A-Z, a-z, 0-9, and -._~!$&'()*+,;= are allowed"
	}

	for _, r := range username {
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return false, "Username contains non-printable characters"
		}
	}

	return true, ""
}

// NormalizeHashtag strips the leading # and lower-cases the name
func NormalizeHashtag(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

// IsValidHashtag validates an already normalized hashtag name.
// Returns (true, "") if valid, or (false, "error message") if invalid.
func IsValidHashtag(name string) (bool, string) {
	if name == "" {
		return false, "Hashtag must not be empty"
	}
	if len(name) > maxHashtagLength {
		return false, "Hashtag is too long"
	}
	if !hashtagRegex.MatchString(name) {
		return false, "Hashtag contains invalid characters"
	}
	return true, ""
}
