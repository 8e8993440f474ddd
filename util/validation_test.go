package util

import (
	"strings"
	"testing"
)

func TestIsValidWebFingerUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
		errMsg   string
	}{
		{"alice", true, ""},
		{"alice.bob_123", true, ""},
		{"alice*bob+charlie", true, ""},
		{"", false, "must be at least 1 character"},
		{"älice", false, "invalid characters"},
		{"alice bob", false, "invalid characters"},
		{"alice\n", false, "invalid characters"},
		{"alice@bob", false, "invalid characters"},
		{"alice/bob", false, "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			valid, errMsg := IsValidWebFingerUsername(tt.username)

			if valid != tt.valid {
				t.Errorf("Expected valid=%v, got %v for username '%s'", tt.valid, valid, tt.username)
			}

			if !tt.valid && tt.errMsg != "" && !strings.Contains(strings.ToLower(errMsg), strings.ToLower(tt.errMsg)) {
				t.Errorf("Expected error containing '%s', got '%s' for username '%s'", tt.errMsg, errMsg, tt.username)
			}
		})
	}
}

func TestNormalizeHashtag(t *testing.T) {
	if got := NormalizeHashtag("#GoLang"); got != "golang" {
		t.Errorf("Expected 'golang', got '%s'", got)
	}
	if got := NormalizeHashtag(" fediverse "); got != "fediverse" {
		t.Errorf("Expected 'fediverse', got '%s'", got)
	}
}

func TestIsValidHashtag(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"golang", true},
		{"go_lang", true},
		{"café", true},
		{"2024election", true},
		{"日本語", true},
		{"", false},
		{"123", false},
		{"foo bar", false},
		{"foo-bar", false},
		{"foo.bar", false},
		{strings.Repeat("a", 101), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errMsg := IsValidHashtag(tt.name)
			if valid != tt.valid {
				t.Errorf("Expected valid=%v, got %v for hashtag '%s' (%s)", tt.valid, valid, tt.name, errMsg)
			}
		})
	}
}
