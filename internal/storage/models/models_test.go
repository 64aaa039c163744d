package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicateMatches(t *testing.T) {
	note := &Note{
		Summary:          "Go channels coordinate goroutines",
		SourceType:       SourceWeb,
		Tags:             []string{"concurrency", "go"},
		Entities:         []string{"Go"},
		IsNewInformation: true,
		ConfidenceScore:  0.7,
	}

	tests := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{"Empty predicate matches everything", Predicate{}, true},
		{"Any keyword is enough", Predicate{Keywords: []string{"rust", "channels"}}, true},
		{"Keywords are case-sensitive", Predicate{Keywords: []string{"CHANNELS"}}, false},
		{"Tag overlap", Predicate{Tags: []string{"go", "python"}}, true},
		{"No tag overlap", Predicate{Tags: []string{"python"}}, false},
		{"Entity overlap", Predicate{Entities: []string{"Go"}}, true},
		{"Source type filter", Predicate{SourceTypes: []string{"pdf"}}, false},
		{"Only new", Predicate{OnlyNew: Bool(true)}, true},
		{"Only known", Predicate{OnlyNew: Bool(false)}, false},
		{"Min confidence met", Predicate{MinConfidence: Float(0.7)}, true},
		{"Min confidence missed", Predicate{MinConfidence: Float(0.71)}, false},
		{"Fields are conjunctive", Predicate{Keywords: []string{"channels"}, Tags: []string{"python"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate.Matches(note))
		})
	}
}

func TestSetHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SetOf("b", "a", "b"))
	assert.Equal(t, []string{}, SetOf())
	assert.Equal(t, []string{"b", "c"}, Intersection([]string{"c", "a", "b"}, []string{"b", "c", "d"}))
	assert.False(t, Intersects([]string{"a"}, nil))
}

func TestNoteClone(t *testing.T) {
	note := &Note{Tags: []string{"a"}, KeyConcepts: map[string]string{"k": "v"}}
	clone := note.Clone()
	clone.Tags[0] = "changed"
	clone.KeyConcepts["k"] = "changed"

	assert.Equal(t, "a", note.Tags[0])
	assert.Equal(t, "v", note.KeyConcepts["k"])

	clone.AddRelated("z")
	clone.AddRelated("y")
	clone.AddRelated("z")
	assert.Equal(t, []string{"y", "z"}, clone.RelatedNodes)
	assert.Empty(t, note.RelatedNodes)
}
