package flow

import "github.com/BTreeMap/FlowRouter/internal/models"

// Display names for flows and steps, used in resumption messages.
// Unknown ids fall back to the raw id so a new flow never breaks rehydration.

var flowDisplayNames = map[string]string{
	models.FlowMenu:      "el menú principal",
	models.FlowMusicUSB:  "tu USB de música",
	models.FlowMoviesUSB: "tu USB de películas",
	models.FlowSeriesUSB: "tu USB de series",
	models.FlowGamesUSB:  "tu USB de juegos retro",
	models.FlowCheckout:  "tu pedido",
	models.FlowSupport:   "atención al cliente",
}

var stepDisplayNames = map[string]string{
	"awaiting_capacity":     "la capacidad de tu USB",
	"awaiting_genres":       "tus géneros favoritos",
	"awaiting_selection":    "la selección de títulos",
	"awaiting_confirmation": "la confirmación",
	"awaiting_address":      "tu dirección de envío",
	"awaiting_payment":      "el método de pago",
}

// FlowDisplayName returns a human-readable name for a flow id.
func FlowDisplayName(flowID string) string {
	if name, ok := flowDisplayNames[flowID]; ok {
		return name
	}
	return flowID
}

// StepDisplayName returns a human-readable name for a step id.
func StepDisplayName(step string) string {
	if name, ok := stepDisplayNames[step]; ok {
		return name
	}
	return step
}
