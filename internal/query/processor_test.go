package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessInference(t *testing.T) {
	p := NewProcessor()

	cases := []struct {
		name   string
		hint   string
		action Action
		domain Domain
	}{
		{"read file", "read a file", ActionRead, DomainFilesystem},
		{"create record", "create a new record in the table", ActionWrite, DomainDatabase},
		{"send message", "send a slack message", ActionSend, DomainCommunication},
		{"remove entry", "remove the old entry", ActionDelete, DomainOther},
		{"fetch url", "fetch the api request body from the url", ActionRead, DomainWeb},
		{"noun only defaults to read", "slack channel", ActionRead, DomainCommunication},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Process(tc.hint)
			assert.Equal(t, tc.action, got.Action, "action for %q", tc.hint)
			assert.Equal(t, tc.domain, got.Domain, "domain for %q", tc.hint)
		})
	}
}

func TestProcessNormalization(t *testing.T) {
	p := NewProcessor()
	got := p.Process("  Read   THE   File ")
	assert.Equal(t, "read the file", got.Normalized)
	// Stop words and short tokens are dropped from keywords.
	assert.Equal(t, []string{"read", "file"}, got.Keywords)
}

func TestProcessConfidenceBounds(t *testing.T) {
	p := NewProcessor()

	empty := p.Process("")
	assert.Zero(t, empty.Confidence)
	assert.Empty(t, empty.Keywords)

	strong := p.Process("read the database table records and schema")
	assert.Greater(t, strong.Confidence, 0.7)
	assert.LessOrEqual(t, strong.Confidence, 1.0)
}

func TestEnhancedQueryAddsDomainTermsAndVerb(t *testing.T) {
	p := NewProcessor()
	got := p.Process("fetch the file contents")

	assert.Equal(t, ActionRead, got.Action)
	assert.Contains(t, got.EnhancedQuery, "fetch the file contents")
	assert.Contains(t, strings.Fields(got.EnhancedQuery), "read")

	// Deduplicated: terms already present are not appended twice.
	fields := strings.Fields(got.EnhancedQuery)
	seen := map[string]int{}
	for _, f := range fields {
		seen[f]++
	}
	assert.Equal(t, 1, seen["file"])
}

func TestEnhancedQueryExpandsBeyondQueryTerms(t *testing.T) {
	p := NewProcessor()
	got := p.Process("read a file")

	// The filesystem vocabulary supplies the expansion, not just the
	// terms the hint already contained.
	fields := strings.Fields(got.EnhancedQuery)
	assert.Contains(t, fields, "directory")
	assert.Contains(t, fields, "folder")
	assert.Contains(t, fields, "path")

	seen := map[string]int{}
	for _, f := range fields {
		seen[f]++
	}
	assert.Equal(t, 1, seen["file"])
	assert.Equal(t, 1, seen["read"])

	// No inferred domain means no expansion terms.
	other := p.Process("remove the old entry")
	assert.Equal(t, DomainOther, other.Domain)
	assert.Equal(t, "remove the old entry delete", other.EnhancedQuery)
}

func TestProcessMemoized(t *testing.T) {
	p := NewProcessor()
	first := p.Process("read a file")
	second := p.Process("read a file")
	assert.Equal(t, first, second)
}

func TestDomainTieBreakFirstDeclared(t *testing.T) {
	p := NewProcessor()
	// One hit each for communication (message) and database (table);
	// communication is declared first.
	got := p.Process("message table")
	assert.Equal(t, DomainCommunication, got.Domain)
}
