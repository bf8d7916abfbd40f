package router

import (
	"regexp"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// keywordGroup is one row of the strong-keyword table. usbRelated marks
// groups that belong to the USB product family; the flow-preservation
// override only lets non-USB matches steal a USB conversation when they are
// very strong.
type keywordGroup struct {
	name       string
	patterns   []*regexp.Regexp
	intent     string
	confidence int
	targetFlow string
	usbRelated bool
}

// keywordTable is evaluated in declaration order. When two groups match with
// the same confidence the earlier one wins, so more specific product groups
// go before generic commercial ones.
var keywordTable = []keywordGroup{
	{
		name: "movies",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(pel[ií]culas?|pelis|estrenos)\b`),
			regexp.MustCompile(`(?i)\busb\b.*cine|cine.*\busb\b`),
		},
		intent:     "movies",
		confidence: 95,
		targetFlow: models.FlowMoviesUSB,
		usbRelated: true,
	},
	{
		name: "music",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(m[uú]sica|canciones|rolas|cumbias|corridos)\b`),
		},
		intent:     "music",
		confidence: 95,
		targetFlow: models.FlowMusicUSB,
		usbRelated: true,
	},
	{
		name: "series",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(series?|temporadas?|cap[ií]tulos?)\b`),
		},
		intent:     "series",
		confidence: 90,
		targetFlow: models.FlowSeriesUSB,
		usbRelated: true,
	},
	{
		name: "games",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(juegos?|videojuegos?|xbox|playstation|nintendo)\b`),
		},
		intent:     "games",
		confidence: 90,
		targetFlow: models.FlowGamesUSB,
		usbRelated: true,
	},
	{
		name: "checkout",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(comprar|pagar|hacer (el )?pedido|ordenar)\b`),
		},
		intent:     "checkout",
		confidence: 92,
		targetFlow: models.FlowCheckout,
		usbRelated: true,
	},
	{
		name: "support",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(problema|falla|no (sirve|funciona)|garant[ií]a|reclamo)\b`),
		},
		intent:     "support",
		confidence: 90,
		targetFlow: models.FlowSupport,
	},
	{
		name: "pricing",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(precio|precios|costo|cu[aá]nto (cuesta|vale|sale))\b`),
		},
		intent:     "pricing",
		confidence: 88,
	},
	{
		name: "catalog",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(cat[aá]logo|lista|opciones|qu[eé] (tienes|venden|hay))\b`),
		},
		intent:     "catalog",
		confidence: 85,
	},
}

// matchKeywords returns the strongest matching group. Highest configured
// confidence wins; ties keep the first group in table order.
func matchKeywords(normalized string) (keywordGroup, bool) {
	var best keywordGroup
	found := false
	for _, g := range keywordTable {
		for _, re := range g.patterns {
			if re.MatchString(normalized) {
				if !found || g.confidence > best.confidence {
					best = g
					found = true
				}
				break
			}
		}
	}
	return best, found
}
