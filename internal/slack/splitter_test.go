package slack

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter_ShortMessageUntouched(t *testing.T) {
	s := NewSplitter()

	parts := s.Split("a short reply", false)
	require.Len(t, parts, 1)
	assert.Equal(t, "a short reply", parts[0])
}

func TestSplitter_NeedsSplitting(t *testing.T) {
	s := NewSplitter()

	assert.False(t, s.NeedsSplitting(strings.Repeat("a", MaxTextLength), false))
	assert.True(t, s.NeedsSplitting(strings.Repeat("a", MaxTextLength+1), false))
	assert.True(t, s.NeedsSplitting(strings.Repeat("a", MaxCodeLength+1), true))
}

func TestSplitter_SplitsOnParagraphs(t *testing.T) {
	s := NewSplitter()

	paragraph := strings.Repeat("lorem ipsum ", 100) // ~1200 chars
	message := strings.Join([]string{paragraph, paragraph, paragraph, paragraph}, "\n\n")
	require.Greater(t, len(message), MaxTextLength)

	parts := s.Split(message, false)
	require.Greater(t, len(parts), 1)
	for _, part := range parts {
		assert.LessOrEqual(t, len(part), MaxTextLength+50, "part indicator adds a small header")
	}
}

func TestSplitter_PartIndicators(t *testing.T) {
	s := NewSplitter()

	paragraph := strings.Repeat("word ", 500)
	message := paragraph + "\n\n" + paragraph
	parts := s.Split(message, false)

	require.Greater(t, len(parts), 1)
	for i, part := range parts {
		assert.True(t, strings.HasPrefix(part, fmt.Sprintf("*Part %d/%d*", i+1, len(parts))))
	}
}

func TestSplitter_CodeBlocksStayFenced(t *testing.T) {
	s := NewSplitter()

	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("    result = compute_value(%d)  # step %d", i, i))
	}
	message := "```python\n" + strings.Join(lines, "\n") + "\n```"
	require.Greater(t, len(message), MaxCodeLength)

	parts := s.Split(message, true)
	require.Greater(t, len(parts), 1)

	for _, part := range parts {
		// Strip the part indicator before checking the fence
		body := part[strings.Index(part, "\n")+1:]
		assert.True(t, strings.HasPrefix(body, "```python\n"), "each part must reopen the fence")
		assert.True(t, strings.HasSuffix(body, "\n```"), "each part must close the fence")
	}
}

func TestSplitter_HardCutKeepsRunesIntact(t *testing.T) {
	s := NewSplitter()

	// One unbroken run of multibyte runes forces byte-level hard cuts;
	// the leading ASCII byte pushes the cut point off the rune grid
	message := "a" + strings.Repeat("世", 1100)
	require.Greater(t, len(message), MaxTextLength)

	parts := s.Split(message, false)
	require.Greater(t, len(parts), 1)

	var rejoined strings.Builder
	for i, part := range parts {
		assert.True(t, utf8.ValidString(part), "part %d splits a rune", i)
		body := part[strings.Index(part, "\n")+1:]
		rejoined.WriteString(body)
	}
	assert.Equal(t, message, rejoined.String())
}

func TestSplitter_OversizedCodeLineIsSplit(t *testing.T) {
	s := NewSplitter()

	message := "```go\n" + strings.Repeat("x", 3*MaxCodeLength) + "\n```"
	parts := s.Split(message, true)
	require.Greater(t, len(parts), 1)

	for i, part := range parts {
		assert.LessOrEqual(t, len(part), MaxCodeLength+50, "part %d exceeds the code limit", i)
		assert.Contains(t, part, "```go\n")
		assert.True(t, strings.HasSuffix(part, "```"))
	}
}

func TestSplitter_UnfencedCodeFallsBackToText(t *testing.T) {
	s := NewSplitter()

	message := strings.Repeat("x := compute()\n\n", 400)
	parts := s.Split(message, true)
	assert.Greater(t, len(parts), 1)
}

func TestParseFence(t *testing.T) {
	lang, body, ok := parseFence("```go\nfunc main() {}\n```")
	require.True(t, ok)
	assert.Equal(t, "go", lang)
	assert.Equal(t, "func main() {}", body)

	lang, body, ok = parseFence("```\nplain\n```")
	require.True(t, ok)
	assert.Equal(t, "", lang)
	assert.Equal(t, "plain", body)

	_, _, ok = parseFence("no fence here")
	assert.False(t, ok)
}

func TestStripMention(t *testing.T) {
	assert.Equal(t, "help me debug", stripMention("<@U12345> help me debug"))
	assert.Equal(t, "plain message", stripMention("plain message"))
	assert.Equal(t, "", stripMention("<@U12345>"))
}
