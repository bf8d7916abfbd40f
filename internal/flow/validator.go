// Package flow provides the flow continuity engine and input validation
// for waiting conversation steps.
package flow

import (
	"strings"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// Re-prompt messages per expected input type. Every invalid result carries
// one: the bot must never go silent on invalid input.
var repromptMessages = map[models.ExpectedInput]string{
	models.InputNumber: "No encontré ningún número en tu mensaje 🤔 ¿Me lo mandas otra vez? Por ejemplo: 64",
	models.InputChoice: "Escríbeme el número o el nombre de la opción que prefieras 🙂",
	models.InputYesNo:  "¿Me confirmas con un *sí* o un *no*?",
	models.InputGenres: "Cuéntame qué géneros te gustan. Por ejemplo: rock, cumbia, baladas… o dime \"de todo un poco\" 🎵",
	models.InputOK:     "Mándame un *ok* para continuar 👍",
	models.InputText:   "No recibí tu respuesta. ¿Me la mandas de nuevo?",
	models.InputAny:    "No recibí tu mensaje. ¿Me lo puedes reenviar?",
}

// containsDigit reports whether s has at least one ASCII digit.
func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// Validate checks raw input against the expected input type of the waiting
// step. Semantic interpretation (which choice, which genres) belongs to the
// owning flow; this only rejects input the flow could never use.
func Validate(input string, expected models.ExpectedInput) models.ValidationResult {
	trimmed := strings.TrimSpace(input)

	switch expected {
	case models.InputMedia:
		// Attachment presence is the flow's concern, not the validator's.
		return models.ValidationResult{IsValid: true}
	case models.InputNumber:
		if containsDigit(trimmed) {
			return models.ValidationResult{IsValid: true}
		}
		return models.ValidationResult{
			IsValid:         false,
			ErrorMessage:    "expected a number, got none",
			RepromptMessage: repromptMessages[models.InputNumber],
		}
	default:
		if trimmed != "" {
			return models.ValidationResult{IsValid: true}
		}
		reprompt, ok := repromptMessages[expected]
		if !ok {
			reprompt = repromptMessages[models.InputAny]
		}
		return models.ValidationResult{
			IsValid:         false,
			ErrorMessage:    "empty input",
			RepromptMessage: reprompt,
		}
	}
}
