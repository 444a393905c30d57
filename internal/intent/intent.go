// Package intent classifies free-text input into an intent category and
// extracts structured entities. Pure pattern matching, no I/O; safe to call
// from any number of goroutines.
package intent

import (
	"regexp"
	"strings"
)

// EntityType tags one extracted entity.
type EntityType string

const (
	EntityEmail  EntityType = "email"
	EntityURL    EntityType = "url"
	EntityDate   EntityType = "date"
	EntityNumber EntityType = "number"
)

// Entity is one pattern match over the input text. Matches are not mutually
// exclusive: a token may be tagged as both a number and part of a date.
type Entity struct {
	Type       EntityType `json:"type"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
}

// Classification is the extractor output.
type Classification struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Entities   []Entity `json:"entities,omitempty"`
}

// categoryPattern scores one intent category by keyword hits.
type categoryPattern struct {
	category string
	keywords []string
	weight   float64
}

var categoryPatterns = []categoryPattern{
	{"greeting", []string{"hello", "hi ", "hey", "good morning", "good afternoon", "good evening"}, 0.9},
	{"farewell", []string{"bye", "goodbye", "see you", "later"}, 0.9},
	{"help", []string{"help", "how do i", "how to", "support", "assist"}, 0.8},
	{"image_generation", []string{"draw", "generate an image", "create an image", "picture of", "render"}, 0.85},
	{"summarize", []string{"summarize", "summary", "tl;dr", "shorten"}, 0.85},
	{"translate", []string{"translate", "in spanish", "in french", "in german", "in japanese"}, 0.85},
	{"code", []string{"code", "function", "debug", "compile", "snippet", "regex"}, 0.75},
	{"analysis", []string{"analyze", "compare", "evaluate", "pros and cons", "statistics"}, 0.75},
	{"question", []string{"what", "why", "when", "where", "who", "how", "?"}, 0.6},
}

// entityMatcher runs one regex with a fixed confidence constant.
type entityMatcher struct {
	typ        EntityType
	re         *regexp.Regexp
	confidence float64
}

var entityMatchers = []entityMatcher{
	{EntityEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), 0.95},
	{EntityURL, regexp.MustCompile(`https?://[^\s<>"]+`), 0.95},
	{EntityDate, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), 0.9},
	{EntityDate, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), 0.8},
	{EntityDate, regexp.MustCompile(`\b(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,?\s+\d{4})?\b`), 0.8},
	{EntityDate, regexp.MustCompile(`\b(?i:today|tomorrow|yesterday)\b`), 0.7},
	{EntityNumber, regexp.MustCompile(`-?\d+(?:\.\d+)?`), 0.85},
}

// Classify runs the category scorer and the full entity battery over text.
// Deterministic and side-effect free.
func Classify(text string) Classification {
	return Classification{
		Category:   categorize(text),
		Confidence: categoryConfidence(text),
		Entities:   ExtractEntities(text),
	}
}

// ExtractEntities runs every matcher independently over text and returns
// all matches with span offsets.
func ExtractEntities(text string) []Entity {
	var entities []Entity
	for _, m := range entityMatchers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Type:       m.typ,
				Text:       text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Confidence: m.confidence,
			})
		}
	}
	return entities
}

func categorize(text string) string {
	category, _ := bestCategory(text)
	return category
}

func categoryConfidence(text string) float64 {
	_, conf := bestCategory(text)
	return conf
}

func bestCategory(text string) (string, float64) {
	lower := strings.ToLower(text)

	best := "general"
	bestScore := 0.0
	for _, cp := range categoryPatterns {
		hits := 0
		for _, kw := range cp.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		// First hit carries the pattern weight; extra hits nudge the score
		// without exceeding 1.0.
		score := cp.weight + float64(hits-1)*0.02
		if score > 1.0 {
			score = 1.0
		}
		if score > bestScore {
			bestScore = score
			best = cp.category
		}
	}

	if bestScore == 0 {
		return "general", 0.3
	}
	return best, bestScore
}
