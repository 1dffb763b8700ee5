// Package validation provides input validation utilities
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128

	// zxcvbn scores run 0..4; 2 rejects dictionary words, keyboard walks
	// and anything derived from the account's own name or email.
	minPasswordScore = 2
)

var (
	usernameRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRe     = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	keyTypeRe   = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
	discordIDRe = regexp.MustCompile(`^[0-9]{1,32}$`)
)

// ValidatePassword checks length, rejects all-digit passwords and requires
// a minimum estimated strength. userInputs (username, email) are penalised
// when they appear in the password.
func ValidatePassword(password string, userInputs ...string) error {
	n := len([]rune(password))
	if n < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLen)
	}
	if n > maxPasswordLen {
		return fmt.Errorf("password must not exceed %d characters", maxPasswordLen)
	}

	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return fmt.Errorf("password cannot be entirely numeric")
	}

	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if in = strings.TrimSpace(in); in != "" {
			inputs = append(inputs, in)
		}
	}
	if zxcvbn.PasswordStrength(password, inputs).Score < minPasswordScore {
		return fmt.Errorf("password is too weak")
	}
	return nil
}

// ValidateUsername checks if a username meets requirements
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters long")
	}

	if len(username) > 30 {
		return fmt.Errorf("username must not exceed 30 characters")
	}

	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores, and hyphens")
	}

	// Cannot start or end with underscore/hyphen
	if strings.ContainsAny(username[:1], "_-") || strings.ContainsAny(username[len(username)-1:], "_-") {
		return fmt.Errorf("username cannot start or end with underscore or hyphen")
	}

	return nil
}

// NormalizeEmail trims and lower-cases an address before validation or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return fmt.Errorf("email must not exceed 254 characters")
	}
	if !emailRe.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateKeyType checks an activation key type label.
func ValidateKeyType(t string) error {
	if !keyTypeRe.MatchString(t) {
		return fmt.Errorf("key type must be 1-32 lowercase letters, digits, underscores or hyphens")
	}
	return nil
}

// ValidateDiscordID checks a Discord snowflake.
func ValidateDiscordID(id string) error {
	if !discordIDRe.MatchString(id) {
		return fmt.Errorf("discord id must be numeric")
	}
	return nil
}
