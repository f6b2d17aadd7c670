package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitterValidatesParameters(t *testing.T) {
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)
	_, err = NewSplitter(100, 100)
	assert.Error(t, err)
	_, err = NewSplitter(100, -1)
	assert.Error(t, err)

	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.Size())
	assert.Equal(t, 200, s.Overlap())
}

func TestSplitRespectsSizeAndKeepsEveryWord(t *testing.T) {
	var words []string
	for i := 0; i < 400; i++ {
		words = append(words, fmt.Sprintf("word%03d", i))
	}
	text := strings.Join(words[:200], " ") + "\n\n" + strings.Join(words[200:], " ")

	s, err := NewSplitter(120, 30)
	require.NoError(t, err)
	chunks, err := s.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	joined := strings.Join(chunks, " ")
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
	for _, w := range words {
		assert.Contains(t, joined, w)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "word000"))
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)
	chunks, err := s.Split("A short paragraph about photosynthesis.")
	require.NoError(t, err)
	assert.Equal(t, []string{"A short paragraph about photosynthesis."}, chunks)
}

func TestSplitBlankText(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)
	chunks, err := s.Split(" \n\n\t ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	s, err := NewSplitter(50, 10)
	require.NoError(t, err)
	text := strings.Repeat("光合作用是植物利用光能的过程。", 20)
	chunks, err := s.Split(text)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
}
