package classifier

import (
	"testing"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

func TestClassifyMovieRequest(t *testing.T) {
	c := Classify("Quiero una USB con películas de terror de 64 gb", nil)

	if c.Primary.Intent != IntentBuyMoviesUSB {
		t.Fatalf("primary = %q, want %q", c.Primary.Intent, IntentBuyMoviesUSB)
	}
	if c.Primary.Confidence <= 0 || c.Primary.Confidence > 1 {
		t.Errorf("confidence %v out of range", c.Primary.Confidence)
	}
	if c.Entities.Category != "movies" {
		t.Errorf("category = %q, want movies", c.Entities.Category)
	}
	if c.Entities.Capacity != "64GB" {
		t.Errorf("capacity = %q, want 64GB", c.Entities.Capacity)
	}
	if c.Entities.Genre != "terror" {
		t.Errorf("genre = %q, want terror", c.Entities.Genre)
	}
}

func TestClassifySecondaryIntents(t *testing.T) {
	c := Classify("quiero música pero antes dime el precio", nil)

	if c.Primary.Intent == "" {
		t.Fatal("expected a primary intent")
	}
	if len(c.Secondary) == 0 {
		t.Fatal("expected secondary candidates when several intents match")
	}
	if len(c.Secondary) > 2 {
		t.Errorf("secondary count = %d, want at most 2", len(c.Secondary))
	}
	seen := map[string]bool{c.Primary.Intent: true}
	for _, s := range c.Secondary {
		if seen[s.Intent] {
			t.Errorf("intent %q listed twice", s.Intent)
		}
		seen[s.Intent] = true
		if s.Confidence > c.Primary.Confidence {
			t.Errorf("secondary %q outscores primary", s.Intent)
		}
	}
}

func TestClassifyNoMatch(t *testing.T) {
	c := Classify("xyzzy plugh", nil)
	if c.Primary.Intent != "" || c.Primary.Confidence != 0 {
		t.Errorf("expected empty primary for gibberish, got %+v", c.Primary)
	}
	if c.Urgent {
		t.Error("gibberish should never be urgent")
	}
}

func TestEntityExtraction(t *testing.T) {
	cases := []struct {
		message string
		check   func(t *testing.T, e Entities)
	}{
		{"dame 2 usb de 128gb", func(t *testing.T, e Entities) {
			if e.Capacity != "128GB" {
				t.Errorf("capacity = %q", e.Capacity)
			}
			if e.Quantity != "2" {
				t.Errorf("quantity = %q", e.Quantity)
			}
		}},
		{"juegos para xbox retro", func(t *testing.T, e Entities) {
			if e.Category != "games" {
				t.Errorf("category = %q", e.Category)
			}
			if e.Platform != "xbox" {
				t.Errorf("platform = %q", e.Platform)
			}
		}},
		{"algo barato de cumbia", func(t *testing.T, e Entities) {
			if e.PriceTier != "budget" {
				t.Errorf("priceTier = %q", e.PriceTier)
			}
			if e.Genre != "cumbia" {
				t.Errorf("genre = %q", e.Genre)
			}
		}},
	}
	for _, c := range cases {
		t.Run(c.message, func(t *testing.T) {
			c.check(t, Classify(c.message, nil).Entities)
		})
	}
}

func TestSentiment(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"excelente, me encanta, gracias", SentimentPositive},
		{"qué horrible, todo muy caro", SentimentNegative},
		{"quiero ver el catálogo", SentimentNeutral},
	}
	for _, c := range cases {
		if got := Classify(c.message, nil).Sentiment; got != c.want {
			t.Errorf("sentiment(%q) = %q, want %q", c.message, got, c.want)
		}
	}
}

func TestUrgency(t *testing.T) {
	if !Classify("quiero una usb con música de 64gb", nil).Urgent {
		t.Error("transactional intent with concrete entities should be urgent")
	}
	if Classify("hola buenas tardes", nil).Urgent {
		t.Error("greeting should not be urgent")
	}

	decided := &models.Session{BuyingIntent: models.BuyingIntentDecision}
	if !Classify("quiero comprar", decided).Urgent {
		t.Error("checkout talk at decision stage should be urgent")
	}
	browsing := &models.Session{BuyingIntent: models.BuyingIntentBrowsing}
	if Classify("me interesa la música", browsing).Urgent {
		t.Error("bare interest while browsing should not be urgent")
	}
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		message string
		want    ResponseCategory
	}{
		{"no gracias, ya no me interesa", ResponseNegative},
		{"ya compré con alguien más", ResponseCompleted},
		{"sí, dale", ResponseConfirmation},
		{"gracias, me interesa", ResponsePositive},
		{"déjame pensarlo", ResponseNeutral},
		{"", ResponseNeutral},
		{"necesito más información", ResponseNeutral},
	}
	for _, c := range cases {
		if got := ClassifyResponse(c.message); got != c.want {
			t.Errorf("ClassifyResponse(%q) = %v, want %v", c.message, got, c.want)
		}
	}
}

func TestStopFollowUps(t *testing.T) {
	if !ShouldStopFollowUps(ResponseNegative) || !ShouldStopFollowUps(ResponseCompleted) {
		t.Error("NEGATIVE and COMPLETED must stop follow-ups")
	}
	if ShouldStopFollowUps(ResponsePositive) || ShouldStopFollowUps(ResponseNeutral) {
		t.Error("POSITIVE and NEUTRAL must not stop follow-ups")
	}
}
