package util

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent on every outbound ActivityPub request
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// HostOf returns the lower-cased host of a URI, or "" if it cannot be parsed
// Example: "https://Mastodon.Social/users/alice" -> "mastodon.social"
func HostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// SameHost reports whether both URIs live on the same non-empty host
func SameHost(a, b string) bool {
	ha := HostOf(a)
	return ha != "" && ha == HostOf(b)
}

// ExtractUsername extracts username from common actor URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func ExtractUsername(uri string) string {
	uri = strings.TrimSuffix(uri, "/")
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		return strings.TrimPrefix(parts[len(parts)-1], "@")
	}
	return ""
}
