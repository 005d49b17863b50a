package loader

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatool/internal/logging"
	"metatool/internal/tool"
)

func catalogLoader() *Loader {
	l := New(logging.Nop())
	l.Register(tool.Descriptor{Name: "read_file", ProviderID: "fs", Description: "read a file from the filesystem", Keywords: []string{"file", "read"}, Category: "filesystem"})
	l.Register(tool.Descriptor{Name: "write_file", ProviderID: "fs", Description: "write contents to a file", Keywords: []string{"file", "write"}, Category: "filesystem"})
	l.Register(tool.Descriptor{Name: "send_slack", ProviderID: "comm", Description: "send a message to a slack channel", Keywords: []string{"slack", "message"}, Category: "communication"})
	return l
}

func TestLoadWithoutHintIsLayer1(t *testing.T) {
	l := catalogLoader()
	l.Pin("send_slack")

	sel := l.Load("")
	assert.Equal(t, 1, sel.Meta.Layer)
	assert.Empty(t, sel.Relevant)
	require.Len(t, sel.Essential, 1)
	assert.Equal(t, "send_slack", sel.Essential[0].Name)
	assert.Equal(t, 3, sel.AvailableTotal)
}

func TestLoadWithHintSelectsRelevant(t *testing.T) {
	l := catalogLoader()

	sel := l.Load("read a file")
	assert.Equal(t, 2, sel.Meta.Layer)
	require.NotEmpty(t, sel.Relevant)
	assert.Equal(t, "read_file", sel.Relevant[0].Name)

	for _, d := range sel.Relevant {
		assert.NotEqual(t, "send_slack", d.Name)
	}
}

func TestLoadExcludesEssentialFromRelevant(t *testing.T) {
	l := catalogLoader()
	l.Pin("read_file")

	sel := l.Load("read a file")
	require.Len(t, sel.Essential, 1)
	for _, d := range sel.Relevant {
		assert.NotEqual(t, "read_file", d.Name)
	}
}

func TestUsageBoostFormula(t *testing.T) {
	l := catalogLoader()

	raw := l.Score("file", "write_file")
	for i := 0; i < 10; i++ {
		l.RecordUsage("write_file")
	}
	boosted := l.Score("file", "write_file")

	assert.InDelta(t, raw+math.Log(11)*0.1, boosted, 1e-9)
}

func TestUsageBoostReordersRanking(t *testing.T) {
	l := catalogLoader()

	sel := l.Load("file")
	require.GreaterOrEqual(t, len(sel.Relevant), 2)

	// Near-tied raw scores; heavy usage of write_file must rank it first.
	for i := 0; i < 10; i++ {
		l.RecordUsage("write_file")
	}
	sel = l.Load("file")
	assert.Equal(t, "write_file", sel.Relevant[0].Name)
}

func TestMaxLayer2Cap(t *testing.T) {
	l := New(logging.Nop(), WithMaxLayer2(1))
	l.Register(tool.Descriptor{Name: "read_file", Description: "read a file", Keywords: []string{"file"}})
	l.Register(tool.Descriptor{Name: "write_file", Description: "write a file", Keywords: []string{"file"}})

	sel := l.Load("file")
	assert.Len(t, sel.Relevant, 1)
}

func TestUnregisterRemovesEverywhere(t *testing.T) {
	l := catalogLoader()
	l.Pin("read_file")
	l.Unregister("read_file")

	_, ok := l.Get("read_file")
	assert.False(t, ok)
	assert.Empty(t, l.Pinned())

	sel := l.Load("read a file")
	for _, d := range sel.Relevant {
		assert.NotEqual(t, "read_file", d.Name)
	}
}

func TestPinUnknownNameSurfacesAfterRegister(t *testing.T) {
	l := New(logging.Nop())
	l.Pin("late_tool")
	assert.Empty(t, l.Load("").Essential)

	l.Register(tool.Descriptor{Name: "late_tool", Description: "arrives later"})
	sel := l.Load("")
	require.Len(t, sel.Essential, 1)
	assert.Equal(t, "late_tool", sel.Essential[0].Name)
}

func TestWarmUsage(t *testing.T) {
	l := catalogLoader()
	l.WarmUsage(map[string]int64{"read_file": 7})
	assert.EqualValues(t, 7, l.UsageCount("read_file"))
}
