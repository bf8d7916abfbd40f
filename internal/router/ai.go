package router

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// TextGenerator is the AI collaborator used by the last-resort classification
// step. Implementations must be safe for concurrent use.
type TextGenerator interface {
	IsAvailable() bool
	GenerateText(prompt string) (string, error)
}

// aiIntentMenu is the fixed set of intents the model may answer with.
var aiIntentMenu = []string{
	"music", "movies", "series", "games", "pricing", "catalog",
	"checkout", "support", "greeting", "menu",
}

func buildAIPrompt(message string, session *models.Session) string {
	var b strings.Builder
	b.WriteString("Eres el clasificador de intenciones de una tienda de memorias USB con contenido (música, películas, series, juegos).\n")
	b.WriteString("Clasifica el mensaje del cliente en UNA de estas intenciones: ")
	b.WriteString(strings.Join(aiIntentMenu, ", "))
	b.WriteString(".\n\n")

	if session != nil {
		if session.CurrentFlow != "" {
			fmt.Fprintf(&b, "Contexto: el cliente está en el flujo %q, etapa %q.\n", session.CurrentFlow, session.CurrentStage)
		}
		if len(session.Interests) > 0 {
			fmt.Fprintf(&b, "Intereses previos: %s.\n", strings.Join(session.Interests, ", "))
		}
		if session.BuyingIntent != "" {
			fmt.Fprintf(&b, "Etapa de compra: %s.\n", session.BuyingIntent)
		}
	}

	fmt.Fprintf(&b, "\nMensaje del cliente: %q\n\n", message)
	b.WriteString("Responde EXACTAMENTE en el formato: INTENT|CONFIDENCE|REASON\n")
	b.WriteString("donde CONFIDENCE es un entero de 0 a 100. Sin texto adicional.")
	return b.String()
}

// parseAIReply extracts INTENT|CONFIDENCE|REASON from the model output.
// It tolerates surrounding whitespace and extra lines but rejects anything
// that does not contain the three-field shape or names an unknown intent.
func parseAIReply(reply string) (intent string, confidence int, reason string, ok bool) {
	for _, line := range strings.Split(reply, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) < 2 {
			continue
		}
		candidate := strings.ToLower(strings.TrimSpace(parts[0]))
		if !validAIIntent(candidate) {
			continue
		}
		conf, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || conf < 0 || conf > 100 {
			continue
		}
		if len(parts) == 3 {
			reason = strings.TrimSpace(parts[2])
		}
		return candidate, conf, reason, true
	}
	return "", 0, "", false
}

func validAIIntent(intent string) bool {
	for _, m := range aiIntentMenu {
		if intent == m {
			return true
		}
	}
	return false
}
