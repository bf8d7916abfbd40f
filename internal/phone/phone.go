// Package phone canonicalizes raw phone strings into the identifier used
// as the sole key for flow state lookup and storage.
package phone

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// MinDigits is the minimum number of digits a canonical phone must have.
const MinDigits = 6

// nonDigitRegex strips everything that is not a digit, including the
// WhatsApp JID suffix and "whatsapp:+" style prefixes.
var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// Canonicalize validates and canonicalizes a raw phone string.
// Distinct raw strings ("+52 1 33..." vs "521 33...") map to the same
// canonical form so they reference the same stored state.
func Canonicalize(raw string) (string, error) {
	if raw == "" {
		return "", models.ErrEmptyRecipient
	}

	canonical := nonDigitRegex.ReplaceAllString(raw, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in %q", models.ErrInvalidPhone, raw)
	}
	if len(canonical) < MinDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", models.ErrInvalidPhone, canonical, MinDigits)
	}

	if raw != canonical {
		slog.Debug("phone canonicalized", "original", raw, "canonical", canonical)
	}
	return canonical, nil
}
