package classifier

import "strings"

// ResponseCategory buckets a customer reply for the follow-up scheduler.
// NEGATIVE and COMPLETED stop follow-ups; the rest keep the thread warm.
type ResponseCategory string

const (
	ResponseNegative     ResponseCategory = "NEGATIVE"
	ResponseCompleted    ResponseCategory = "COMPLETED"
	ResponseConfirmation ResponseCategory = "CONFIRMATION"
	ResponsePositive     ResponseCategory = "POSITIVE"
	ResponseNeutral      ResponseCategory = "NEUTRAL"
)

var responseKeywords = []struct {
	category ResponseCategory
	words    []string
}{
	{ResponseNegative, []string{
		"no me interesa", "no quiero", "no gracias", "déjame en paz",
		"no molestes", "ya no", "cancelar", "baja",
	}},
	{ResponseCompleted, []string{
		"ya compré", "ya lo tengo", "ya pagué", "ya recibí", "ya llegó",
	}},
	{ResponseConfirmation, []string{
		"sí", "si", "claro", "dale", "ok", "va", "listo", "de acuerdo", "órale",
	}},
	{ResponsePositive, []string{
		"gracias", "excelente", "perfecto", "genial", "me interesa", "me gusta",
	}},
}

// ClassifyResponse maps a free-text reply to a follow-up category. Categories
// are checked in order, so a refusal wins over any politeness in the same
// message ("no gracias" is NEGATIVE, not POSITIVE).
func ClassifyResponse(message string) ResponseCategory {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return ResponseNeutral
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	}) {
		tokens[tok] = true
	}
	for _, rk := range responseKeywords {
		for _, w := range rk.words {
			if strings.Contains(w, " ") {
				if strings.Contains(normalized, w) {
					return rk.category
				}
			} else if tokens[w] {
				return rk.category
			}
		}
	}
	return ResponseNeutral
}

// ShouldStopFollowUps reports whether the category ends the follow-up sequence.
func ShouldStopFollowUps(c ResponseCategory) bool {
	return c == ResponseNegative || c == ResponseCompleted
}
