package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Greeting(t *testing.T) {
	c := Classify("Hello there, how are you?")
	assert.Equal(t, "greeting", c.Category)
	assert.Greater(t, c.Confidence, 0.8)
}

func TestClassify_UnknownFallsBackToGeneral(t *testing.T) {
	c := Classify("zxqv plomb")
	assert.Equal(t, "general", c.Category)
	assert.Equal(t, 0.3, c.Confidence)
}

func TestClassify_Deterministic(t *testing.T) {
	a := Classify("summarize this article please")
	b := Classify("summarize this article please")
	assert.Equal(t, a, b)
}

func TestExtractEntities_Email(t *testing.T) {
	entities := ExtractEntities("contact ops@example.com for access")
	require.Len(t, entities, 1)
	assert.Equal(t, EntityEmail, entities[0].Type)
	assert.Equal(t, "ops@example.com", entities[0].Text)
	assert.Equal(t, 8, entities[0].Start)
	assert.Equal(t, 23, entities[0].End)
}

func TestExtractEntities_URL(t *testing.T) {
	entities := ExtractEntities("see https://example.com/docs for details")
	require.NotEmpty(t, entities)
	assert.Equal(t, EntityURL, entities[0].Type)
	assert.Equal(t, "https://example.com/docs", entities[0].Text)
}

func TestExtractEntities_DateFormats(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"iso", "meeting on 2026-03-14"},
		{"slash", "meeting on 3/14/2026"},
		{"month name", "meeting on Mar 14, 2026"},
		{"relative", "meeting tomorrow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var found bool
			for _, e := range ExtractEntities(tc.text) {
				if e.Type == EntityDate {
					found = true
				}
			}
			assert.True(t, found, "expected a date entity in %q", tc.text)
		})
	}
}

func TestExtractEntities_OverlappingTags(t *testing.T) {
	// A date in ISO form also matches the bare-number matcher: both tags
	// must be present, matchers are independent.
	entities := ExtractEntities("due 2026-03-14")
	var hasDate, hasNumber bool
	for _, e := range entities {
		switch e.Type {
		case EntityDate:
			hasDate = true
		case EntityNumber:
			hasNumber = true
		}
	}
	assert.True(t, hasDate)
	assert.True(t, hasNumber)
}

func TestExtractEntities_None(t *testing.T) {
	assert.Empty(t, ExtractEntities("plain words only"))
}
