// Package router decides whether a classified capture is filed automatically
// or parked for human review.
package router

import (
	"strings"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/classify"
	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// boostedConfidence is the floor applied when the user names the category
// with an explicit prefix. Always above any sane threshold.
const boostedConfidence = 0.95

// Decision is the routing verdict for one capture.
type Decision struct {
	Accept     bool
	Category   core.Category
	Confidence float64
	Title      string
	Fields     map[string]string
	Text       string // capture text with any category prefix stripped
}

// Route applies the category-prefix override and the confidence threshold.
// Pure: no I/O, no clock beyond field templating, same inputs same decision.
//
// A leading "person:"/"project:"/"idea:"/"admin:" (plural forms too) wins over
// the classifier: the category is forced, confidence is raised to at least
// 0.95, and the prefix is stripped from the stored text. The threshold
// boundary is inclusive: confidence equal to threshold files.
func Route(item core.CaptureItem, result core.ClassificationResult, threshold float64) Decision {
	decision := Decision{
		Category:   result.Category,
		Confidence: result.Confidence,
		Title:      result.Title,
		Fields:     result.Fields,
		Text:       item.Text,
	}

	if category, stripped, ok := splitPrefix(item.Text); ok {
		decision.Text = stripped
		if decision.Confidence < boostedConfidence {
			decision.Confidence = boostedConfidence
		}
		if category != decision.Category {
			// Classifier guessed a different bucket; the user's prefix is
			// authoritative, so rebuild title and fields for the forced one.
			decision.Category = category
			decision.Title = classify.SimpleTitle(stripped)
			decision.Fields = classify.TemplateFields(category, decision.Title, stripped, time.Now().UTC())
		}
	}

	decision.Accept = decision.Confidence >= threshold
	return decision
}

// splitPrefix recognizes a leading "<category>:" token.
func splitPrefix(text string) (core.Category, string, bool) {
	trimmed := strings.TrimSpace(text)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", false
	}

	token := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
	category, ok := core.ParseCategory(token)
	if !ok {
		return "", "", false
	}
	return category, strings.TrimSpace(trimmed[idx+1:]), true
}
