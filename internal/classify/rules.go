// Package classify maps raw captured text to a category, a confidence score,
// and a field payload shaped by that category's schema.
package classify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// categoryKeywords drives the rule-based classifier. Each keyword hit adds to
// the category's score; the highest score wins.
var categoryKeywords = map[core.Category][]string{
	core.CategoryPerson:  {"meet", "met", "call", "coffee", "intro", "follow up", "connect"},
	core.CategoryProject: {"project", "build", "launch", "ship", "deadline", "milestone"},
	core.CategoryIdea:    {"idea", "what if", "maybe", "concept", "hypothesis"},
	core.CategoryAdmin:   {"pay", "invoice", "renew", "schedule", "submit", "todo", "task"},
}

const titleMaxWords = 6

var wordRe = regexp.MustCompile(`\w+`)

// SimpleTitle derives a short display title from the first words of text.
func SimpleTitle(text string) string {
	words := wordRe.FindAllString(text, titleMaxWords)
	if len(words) == 0 {
		return "Untitled"
	}
	return strings.Join(words, " ")
}

// RuleClassifier is the deterministic keyword classifier. Zero config, no
// network, always available; it is the fallback when no model is wired.
type RuleClassifier struct {
	now func() time.Time
}

// NewRuleClassifier creates a keyword-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{now: time.Now}
}

// Classify scores each category by keyword hits. Score 0 falls back to admin
// at 0.45 confidence, which lands below the default routing threshold so
// unknown text goes to review rather than the wrong bucket.
func (c *RuleClassifier) Classify(_ context.Context, text string) (core.ClassificationResult, error) {
	category, confidence := bestCategory(text)
	title := SimpleTitle(text)

	return core.ClassificationResult{
		Category:   category,
		Confidence: confidence,
		Title:      title,
		Fields:     TemplateFields(category, title, text, c.now().UTC()),
	}, nil
}

func bestCategory(text string) (core.Category, float64) {
	lower := strings.ToLower(text)

	best := core.CategoryAdmin
	bestScore := 0
	// Iterate in fixed order so ties resolve deterministically.
	for _, category := range []core.Category{core.CategoryPerson, core.CategoryProject, core.CategoryIdea, core.CategoryAdmin} {
		score := 0
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lower, keyword) {
				score++
			}
		}
		if score > bestScore {
			best = category
			bestScore = score
		}
	}

	if bestScore == 0 {
		return core.CategoryAdmin, 0.45
	}
	confidence := 0.5 + float64(bestScore)*0.15
	if confidence > 0.9 {
		confidence = 0.9
	}
	return best, confidence
}

// TemplateFields fills the category's schema from the raw text. Every key in
// the schema is present, empty or not, so field-selection lists are complete.
func TemplateFields(category core.Category, title, text string, now time.Time) map[string]string {
	switch category {
	case core.CategoryPerson:
		return map[string]string{
			"name":         title,
			"context":      text,
			"follow_ups":   "",
			"last_touched": now.Format("2006-01-02"),
		}
	case core.CategoryProject:
		return map[string]string{
			"name":        title,
			"status":      "active",
			"next_action": text,
			"notes":       "",
		}
	case core.CategoryIdea:
		return map[string]string{
			"name":      title,
			"one_liner": text,
			"notes":     "",
		}
	default:
		return map[string]string{
			"name":     title,
			"status":   "open",
			"due_date": "",
			"notes":    text,
		}
	}
}
