package router

import (
	"regexp"
	"strings"
)

// capacityRegex matches storage sizes the way customers type them
// ("64GB", "64 gb", "32 gigas").
var capacityRegex = regexp.MustCompile(`(?i)\d+\s*(gb|gigas?)`)

var affirmativeWords = map[string]bool{
	"sí": true, "si": true, "ok": true, "okay": true, "dale": true,
	"va": true, "sale": true, "listo": true, "claro": true, "simón": true,
	"órale": true, "perfecto": true, "de acuerdo": true,
}

var negativeWords = map[string]bool{
	"no": true, "nel": true, "negativo": true, "nop": true, "nope": true,
	"para nada": true, "mejor no": true,
}

var politeWords = []string{
	"gracias", "muchas gracias", "mil gracias", "muy amable", "qué amable",
}

// classifyYesNo resolves short confirmations. The second return is false when
// the message is not unambiguously yes or no, in which case the caller must
// fall through rather than guess.
func classifyYesNo(message string) (affirmative bool, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, "!.¡ ")
	if affirmativeWords[normalized] {
		return true, true
	}
	if negativeWords[normalized] {
		return false, true
	}
	return false, false
}

// isPoliteAck reports whether the message is a bare thank-you rather than an
// actual answer.
func isPoliteAck(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, "!.¡ ")
	for _, w := range politeWords {
		if normalized == w {
			return true
		}
	}
	return false
}

// isShortAffirmation and isShortNegation catch answers to an implicit
// question when no FlowState survived (for example after a restart).
func isShortAffirmation(normalized string) bool {
	return len(normalized) <= 12 && affirmativeWords[strings.Trim(normalized, "!.¡ ")]
}

func isShortNegation(normalized string) bool {
	return len(normalized) <= 12 && negativeWords[strings.Trim(normalized, "!.¡ ")]
}
