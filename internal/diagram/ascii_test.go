package diagram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/store"
)

func TestRenderASCII(t *testing.T) {
	trace := &store.RunTrace{Nodes: []store.NodeTrace{
		{NodeID: "start", Status: "completed"},
		{NodeID: "yes", Status: "failed", Retries: 3},
	}}
	model, err := Build(greeterBot(), trace)
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.True(t, strings.HasPrefix(out, "=== Greeter ===\n"))
	assert.Contains(t, out, "│ start  │")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "[FAIL] x3")
	assert.Contains(t, out, "▼")
	assert.Contains(t, out, "edges:\n")
	assert.Contains(t, out, "  check ─→ no [false]\n")
	assert.Contains(t, out, "  start ─→ check\n")
}

func TestMakeBox_RuneWidth(t *testing.T) {
	box := makeBox(&Node{ID: "ask", Label: "Как вас зовут?"})

	require.Len(t, box.lines, 4)
	for _, line := range box.lines {
		assert.Equal(t, box.width, utf8.RuneCountInString(line), line)
	}
}

func TestMakeBox_LabelSameAsID(t *testing.T) {
	box := makeBox(&Node{ID: "audit", Label: "audit"})
	assert.Len(t, box.lines, 3)
}

func TestStatusTag(t *testing.T) {
	assert.Equal(t, "[WAIT]", statusTag("waiting"))
	assert.Equal(t, "[FALLBACK]", statusTag("fallback"))
	assert.Equal(t, "", statusTag("unknown"))
}
