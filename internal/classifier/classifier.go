// Package classifier extracts intent, entities, sentiment and urgency from
// free-form Spanish chat messages. It is stateless: the same message always
// produces the same classification, with an optional session only influencing
// the urgency heuristic.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// Priority buckets order intents when confidences tie. Lower is stronger.
const (
	priorityTransactional  = 1
	priorityInformational  = 2
	priorityConversational = 3
)

// Intent tags produced by the pattern table.
const (
	IntentBuyMusicUSB  = "buy_music_usb"
	IntentBuyMoviesUSB = "buy_movies_usb"
	IntentBuySeriesUSB = "buy_series_usb"
	IntentBuyGamesUSB  = "buy_games_usb"
	IntentPriceInquiry = "price_inquiry"
	IntentCatalog      = "catalog_request"
	IntentCheckout     = "checkout"
	IntentSupport      = "support_request"
	IntentGreeting     = "greeting"
	IntentFarewell     = "farewell"
)

// ScoredIntent is one intent candidate with its normalized confidence (0-1).
type ScoredIntent struct {
	Intent     string
	Confidence float64
}

// Entities holds whatever concrete attributes the message mentioned.
// Empty fields mean the entity was not present.
type Entities struct {
	Category  string
	Capacity  string
	Genre     string
	Platform  string
	PriceTier string
	Quantity  string
}

// HasConcrete reports whether the message pinned down an attribute that
// narrows the purchase itself. Category alone does not count; it only says
// what aisle the customer is in.
func (e Entities) HasConcrete() bool {
	return e.Capacity != "" || e.Platform != "" || e.Quantity != ""
}

// Sentiment values.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Classification is the full result for one message.
type Classification struct {
	Primary   ScoredIntent
	Secondary []ScoredIntent
	Entities  Entities
	Sentiment string
	Urgent    bool
}

type intentPattern struct {
	intent   string
	patterns []*regexp.Regexp
	weight   float64
	priority int
}

var intentTable = []intentPattern{
	{
		intent: IntentBuyMusicUSB,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\busb\b.*m[uú]sica|m[uú]sica.*\busb\b`),
			regexp.MustCompile(`(?i)\b(quiero|busco|necesito|me interesa)\b.*m[uú]sica`),
			regexp.MustCompile(`(?i)\b(canciones|rolas|cumbias|corridos)\b`),
		},
		weight:   0.95,
		priority: priorityTransactional,
	},
	{
		intent: IntentBuyMoviesUSB,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\busb\b.*pel[ií]culas?|pel[ií]culas?.*\busb\b`),
			regexp.MustCompile(`(?i)\b(quiero|busco|necesito|me interesa)\b.*(pel[ií]culas?|pelis)`),
			regexp.MustCompile(`(?i)\b(pelis|estrenos|cine)\b`),
		},
		weight:   0.95,
		priority: priorityTransactional,
	},
	{
		intent: IntentBuySeriesUSB,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\busb\b.*series?|series?.*\busb\b`),
			regexp.MustCompile(`(?i)\b(quiero|busco|necesito|me interesa)\b.*series?`),
			regexp.MustCompile(`(?i)\b(temporadas?|cap[ií]tulos?)\b`),
		},
		weight:   0.9,
		priority: priorityTransactional,
	},
	{
		intent: IntentBuyGamesUSB,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\busb\b.*juegos?|juegos?.*\busb\b`),
			regexp.MustCompile(`(?i)\b(quiero|busco|necesito|me interesa)\b.*juegos?`),
			regexp.MustCompile(`(?i)\b(videojuegos?|gamer|retro)\b`),
		},
		weight:   0.9,
		priority: priorityTransactional,
	},
	{
		intent: IntentCheckout,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(comprar|pagar|pedido|ordenar)\b`),
			regexp.MustCompile(`(?i)\b(lo llevo|me lo llevo|c[oó]mo pago)\b`),
		},
		weight:   1.0,
		priority: priorityTransactional,
	},
	{
		intent: IntentPriceInquiry,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(precio|precios|costo|cu[aá]nto (cuesta|vale|sale))\b`),
			regexp.MustCompile(`(?i)\b(barato|econ[oó]mico|descuento|promoci[oó]n)\b`),
		},
		weight:   0.9,
		priority: priorityInformational,
	},
	{
		intent: IntentCatalog,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(cat[aá]logo|lista|opciones|qu[eé] (tienes|venden|hay))\b`),
			regexp.MustCompile(`(?i)\b(mu[eé]strame|ens[eé]ñame)\b`),
		},
		weight:   0.85,
		priority: priorityInformational,
	},
	{
		intent: IntentSupport,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(problema|falla|no (sirve|funciona)|ayuda|reclamo)\b`),
			regexp.MustCompile(`(?i)\b(garant[ií]a|devoluci[oó]n|cambio)\b`),
		},
		weight:   0.9,
		priority: priorityInformational,
	},
	{
		intent: IntentGreeting,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(hola|buenas|buenos d[ií]as|buenas tardes|buenas noches|qu[eé] onda|hey)\b`),
		},
		weight:   0.8,
		priority: priorityConversational,
	},
	{
		intent: IntentFarewell,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(adi[oó]s|hasta luego|nos vemos|bye|gracias,? eso es todo)\b`),
		},
		weight:   0.8,
		priority: priorityConversational,
	},
}

var (
	capacityRegex = regexp.MustCompile(`(?i)(\d+)\s*(gb|gigas?)`)
	quantityRegex = regexp.MustCompile(`(?i)(\d+)\s*(usb|memorias?|piezas?|unidades?)`)
	genreRegex    = regexp.MustCompile(`(?i)\b(rock|pop|cumbia|banda|corridos|reggaet[oó]n|salsa|terror|acci[oó]n|comedia|drama|rom[aá]nticas?|infantiles?|anime)\b`)
	platformRegex = regexp.MustCompile(`(?i)\b(xbox|playstation|ps[12345]|nintendo|wii|switch|pc|retro)\b`)
)

var categoryPatterns = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)\b(m[uú]sica|canciones|rolas)\b`), "music"},
	{regexp.MustCompile(`(?i)\b(pel[ií]culas?|pelis|cine)\b`), "movies"},
	{regexp.MustCompile(`(?i)\b(series?|temporadas?)\b`), "series"},
	{regexp.MustCompile(`(?i)\b(juegos?|videojuegos?)\b`), "games"},
}

var priceTierPatterns = []struct {
	re   *regexp.Regexp
	tier string
}{
	{regexp.MustCompile(`(?i)\b(barato|econ[oó]mico|m[aá]s barato)\b`), "budget"},
	{regexp.MustCompile(`(?i)\b(premium|el mejor|m[aá]s grande)\b`), "premium"},
}

var positiveWords = []string{
	"gracias", "excelente", "perfecto", "genial", "me gusta", "me encanta",
	"buenísimo", "padre", "chido", "sí", "claro",
}

var negativeWords = []string{
	"no", "malo", "caro", "pésimo", "molesto", "queja", "problema",
	"nunca", "jamás", "horrible",
}

var transactionalIntents = map[string]bool{
	IntentBuyMusicUSB:  true,
	IntentBuyMoviesUSB: true,
	IntentBuySeriesUSB: true,
	IntentBuyGamesUSB:  true,
	IntentCheckout:     true,
}

// Classify scores the message against the intent table and extracts entities.
// session may be nil; it only feeds the urgency heuristic.
func Classify(message string, session *models.Session) Classification {
	normalized := strings.ToLower(strings.TrimSpace(message))

	scored := make([]ScoredIntent, 0, len(intentTable))
	priorities := make(map[string]int, len(intentTable))
	for _, ip := range intentTable {
		matched := 0
		for _, re := range ip.patterns {
			if re.MatchString(normalized) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		conf := float64(matched) / float64(len(ip.patterns)) * ip.weight
		scored = append(scored, ScoredIntent{Intent: ip.intent, Confidence: conf})
		priorities[ip.intent] = ip.priority
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return priorities[scored[i].Intent] < priorities[scored[j].Intent]
	})

	result := Classification{
		Entities:  extractEntities(normalized),
		Sentiment: classifySentiment(normalized),
	}
	if len(scored) > 0 {
		result.Primary = scored[0]
		end := len(scored)
		if end > 3 {
			end = 3
		}
		result.Secondary = scored[1:end]
	}
	result.Urgent = deriveUrgency(result, session)
	return result
}

func extractEntities(normalized string) Entities {
	var e Entities
	for _, cp := range categoryPatterns {
		if cp.re.MatchString(normalized) {
			e.Category = cp.category
			break
		}
	}
	if m := capacityRegex.FindStringSubmatch(normalized); m != nil {
		e.Capacity = m[1] + "GB"
	}
	if m := genreRegex.FindStringSubmatch(normalized); m != nil {
		e.Genre = m[1]
	}
	if m := platformRegex.FindStringSubmatch(normalized); m != nil {
		e.Platform = m[1]
	}
	for _, pt := range priceTierPatterns {
		if pt.re.MatchString(normalized) {
			e.PriceTier = pt.tier
			break
		}
	}
	if m := quantityRegex.FindStringSubmatch(normalized); m != nil {
		e.Quantity = m[1]
	}
	return e
}

func classifySentiment(normalized string) string {
	positive, negative := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(normalized, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(normalized, w) {
			negative++
		}
	}
	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// deriveUrgency flags messages that look ready to convert: a transactional
// intent backed by concrete entities, or any transactional signal while the
// session already discussed price or reached a buying decision.
func deriveUrgency(c Classification, session *models.Session) bool {
	if !transactionalIntents[c.Primary.Intent] {
		return false
	}
	if c.Entities.HasConcrete() {
		return true
	}
	if session != nil && (session.PriceDiscussed || session.BuyingIntent == models.BuyingIntentDecision) {
		return true
	}
	return false
}
