package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// MediaIDRegex validates producer, consumer and transport ids.
	MediaIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	MaxRoomNameLength    = 100
	MaxDisplayNameLength = 64
)

// ValidateRoomName validates an already trimmed room name. Room names become
// directory names for HLS output, so path separators are rejected.
func ValidateRoomName(name string) error {
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if err := ValidateStringLength(name, 1, MaxRoomNameLength, "room name"); err != nil {
		return err
	}
	if !utf8.ValidString(name) || hasControl(name) {
		return fmt.Errorf("room name contains invalid characters")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("room name must not contain path separators or start with a dot")
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("user name is required")
	}
	if err := ValidateStringLength(name, 1, MaxDisplayNameLength, "user name"); err != nil {
		return err
	}
	if !utf8.ValidString(name) || hasControl(name) {
		return fmt.Errorf("user name contains invalid characters")
	}
	return nil
}

func ValidateMediaID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", fieldName)
	}
	if !MediaIDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
