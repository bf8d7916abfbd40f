package flow

import (
	"testing"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

func TestValidateNumber(t *testing.T) {
	if r := Validate("32", models.InputNumber); !r.IsValid {
		t.Errorf("Validate(\"32\", NUMBER) invalid: %+v", r)
	}
	if r := Validate("quiero 64 gb", models.InputNumber); !r.IsValid {
		t.Errorf("number embedded in text should be valid: %+v", r)
	}
	r := Validate("hola", models.InputNumber)
	if r.IsValid {
		t.Error("Validate(\"hola\", NUMBER) should be invalid")
	}
	if r.RepromptMessage == "" {
		t.Error("invalid NUMBER result missing re-prompt message")
	}
}

func TestValidateNonEmptyTypes(t *testing.T) {
	types := []models.ExpectedInput{
		models.InputText, models.InputChoice, models.InputYesNo,
		models.InputGenres, models.InputOK, models.InputAny,
	}
	for _, et := range types {
		if r := Validate("de todo un poco", et); !r.IsValid {
			t.Errorf("Validate(non-empty, %s) invalid: %+v", et, r)
		}
		r := Validate("   ", et)
		if r.IsValid {
			t.Errorf("Validate(blank, %s) should be invalid", et)
		}
		if r.RepromptMessage == "" {
			t.Errorf("invalid %s result missing re-prompt message", et)
		}
	}
}

func TestValidateMedia(t *testing.T) {
	if r := Validate("", models.InputMedia); !r.IsValid {
		t.Errorf("MEDIA should always be valid: %+v", r)
	}
}

func TestRepromptsAreTypeSpecific(t *testing.T) {
	num := Validate("", models.InputNumber).RepromptMessage
	genres := Validate("", models.InputGenres).RepromptMessage
	if num == genres {
		t.Error("NUMBER and GENRES share a re-prompt message")
	}
}
