package router

import (
	"testing"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

func TestRouteThresholdInclusive(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		threshold  float64
		wantAccept bool
	}{
		{"above threshold", 0.8, 0.6, true},
		{"exactly at threshold", 0.6, 0.6, true},
		{"below threshold", 0.59, 0.6, false},
		{"zero confidence", 0, 0.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := core.CaptureItem{Text: "some note"}
			result := core.ClassificationResult{
				Category:   core.CategoryAdmin,
				Confidence: tt.confidence,
			}
			decision := Route(item, result, tt.threshold)
			if decision.Accept != tt.wantAccept {
				t.Errorf("accept = %v, want %v", decision.Accept, tt.wantAccept)
			}
		})
	}
}

func TestRoutePrefixOverridesCategory(t *testing.T) {
	item := core.CaptureItem{Text: "person: talk to Sam"}
	result := core.ClassificationResult{
		Category:   core.CategoryProject,
		Confidence: 0.4,
		Title:      "talk to Sam",
	}

	decision := Route(item, result, 0.6)
	if decision.Category != core.CategoryPerson {
		t.Errorf("category = %q, want person", decision.Category)
	}
	if decision.Confidence < 0.95 {
		t.Errorf("confidence = %v, want >= 0.95", decision.Confidence)
	}
	if decision.Text != "talk to Sam" {
		t.Errorf("text = %q, want prefix stripped", decision.Text)
	}
	if !decision.Accept {
		t.Error("boosted capture should be accepted")
	}
	if decision.Fields["name"] == "" {
		t.Error("overridden category should get rebuilt fields")
	}
}

func TestRoutePrefixMatchingCategoryKeepsFields(t *testing.T) {
	item := core.CaptureItem{Text: "idea: gamified onboarding"}
	result := core.ClassificationResult{
		Category:   core.CategoryIdea,
		Confidence: 0.7,
		Title:      "gamified onboarding",
		Fields:     map[string]string{"name": "gamified onboarding", "one_liner": "gamified onboarding", "notes": ""},
	}

	decision := Route(item, result, 0.6)
	if decision.Category != core.CategoryIdea {
		t.Errorf("category = %q", decision.Category)
	}
	if decision.Confidence != 0.95 {
		t.Errorf("confidence = %v, want boosted to 0.95", decision.Confidence)
	}
	if decision.Fields["one_liner"] != "gamified onboarding" {
		t.Error("matching prefix should keep classifier fields")
	}
	if decision.Text != "gamified onboarding" {
		t.Errorf("text = %q, want prefix stripped", decision.Text)
	}
}

func TestRoutePluralPrefixAlias(t *testing.T) {
	item := core.CaptureItem{Text: "projects: migrate billing"}
	result := core.ClassificationResult{Category: core.CategoryAdmin, Confidence: 0.3}

	decision := Route(item, result, 0.6)
	if decision.Category != core.CategoryProject {
		t.Errorf("category = %q, want project", decision.Category)
	}
	if decision.Text != "migrate billing" {
		t.Errorf("text = %q", decision.Text)
	}
}

func TestRouteUnknownPrefixIgnored(t *testing.T) {
	item := core.CaptureItem{Text: "recipe: pasta with lemon"}
	result := core.ClassificationResult{Category: core.CategoryAdmin, Confidence: 0.45}

	decision := Route(item, result, 0.6)
	if decision.Confidence != 0.45 {
		t.Errorf("confidence = %v, unknown prefix must not boost", decision.Confidence)
	}
	if decision.Text != "recipe: pasta with lemon" {
		t.Errorf("text = %q, unknown prefix must not strip", decision.Text)
	}
	if decision.Accept {
		t.Error("should route to review")
	}
}

func TestRouteHighConfidencePrefixNotLowered(t *testing.T) {
	item := core.CaptureItem{Text: "admin: renew passport"}
	result := core.ClassificationResult{Category: core.CategoryAdmin, Confidence: 0.99}

	decision := Route(item, result, 0.6)
	if decision.Confidence != 0.99 {
		t.Errorf("confidence = %v, boost is a floor not a cap", decision.Confidence)
	}
}

func TestRouteDeterministic(t *testing.T) {
	item := core.CaptureItem{Text: "project: ship the thing"}
	result := core.ClassificationResult{Category: core.CategoryIdea, Confidence: 0.5}

	first := Route(item, result, 0.6)
	for i := 0; i < 5; i++ {
		again := Route(item, result, 0.6)
		if again.Accept != first.Accept || again.Category != first.Category ||
			again.Confidence != first.Confidence || again.Text != first.Text {
			t.Fatal("Route is not deterministic")
		}
	}
}
