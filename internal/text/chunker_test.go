package text

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter makes token budgets exact and additive across joined sentences.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func buildBook(sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "Sentence %d tells of the river and the mill. ", i)
	}
	return sb.String()
}

func TestSplitSentences(t *testing.T) {
	t.Run("Terminal Punctuation", func(t *testing.T) {
		got := SplitSentences("Hello world. This is a test! Is it? yes it is.")
		assert.Equal(t, []string{"Hello world.", "This is a test!", "Is it? yes it is."}, got)
	})

	t.Run("Requires Uppercase Follower", func(t *testing.T) {
		got := SplitSentences("Numbers like 3.14 stay whole. e.g. this one too.")
		assert.Equal(t, []string{"Numbers like 3.14 stay whole. e.g. this one too."}, got)
	})

	t.Run("Newlines Count As Whitespace", func(t *testing.T) {
		got := SplitSentences("First line.\n\nSecond line.")
		assert.Equal(t, []string{"First line.", "Second line."}, got)
	})

	t.Run("Blank", func(t *testing.T) {
		assert.Empty(t, SplitSentences("  \n\t "))
	})
}

func TestChunker_Chunk(t *testing.T) {
	t.Run("Empty Input", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		assert.Empty(t, c.Chunk(""))
		assert.Empty(t, c.Chunk("   \n\t  "))
	})

	t.Run("Short Text Single Chunk", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		text := "The mill stood by the river. It had stood there for years."
		chunks := c.Chunk(text)
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0].Content)
		assert.Equal(t, 0, chunks[0].Metadata.ChunkIndex)
		assert.Equal(t, 12, chunks[0].Metadata.TokenCount)
		assert.Equal(t, 0, chunks[0].Metadata.StartChar)
		assert.Equal(t, utf8.RuneCountInString(text), chunks[0].Metadata.EndChar)
	})

	t.Run("Oversized Sentence Kept Whole", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(600), WithMaxTokens(800), WithOverlap(100))
		sentence := strings.TrimSpace(strings.Repeat("word ", 900)) + "."
		chunks := c.Chunk(sentence)
		require.Len(t, chunks, 1)
		assert.Equal(t, 900, chunks[0].Metadata.TokenCount)
	})

	t.Run("Properties Hold Over Long Text", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(50), WithMaxTokens(80), WithOverlap(10))
		chunks := c.Chunk(buildBook(200))
		require.Greater(t, len(chunks), 10)

		for i, ch := range chunks {
			assert.Equal(t, i, ch.Metadata.ChunkIndex)
			assert.NotEmpty(t, ch.Content)
			assert.LessOrEqual(t, ch.Metadata.TokenCount, 80)
			assert.Greater(t, ch.Metadata.EndChar, ch.Metadata.StartChar)
			if i > 0 {
				assert.Equal(t, chunks[i-1].Metadata.EndChar, ch.Metadata.StartChar)

				prev := SplitSentences(chunks[i-1].Content)
				last := prev[len(prev)-1]
				assert.Contains(t, ch.Content, last, "chunk %d should repeat the tail of chunk %d", i, i-1)
			}
		}
		assert.Contains(t, chunks[len(chunks)-1].Content, "Sentence 199 ")
	})

	t.Run("No Overlap Partitions Sentences", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(50), WithMaxTokens(80), WithOverlap(0))
		chunks := c.Chunk(buildBook(40))

		var total int
		for _, ch := range chunks {
			total += len(SplitSentences(ch.Content))
		}
		assert.Equal(t, 40, total)
	})

	t.Run("Large Overlap Still Advances", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(20), WithMaxTokens(30), WithOverlap(1000))
		chunks := c.Chunk(buildBook(30))
		require.NotEmpty(t, chunks)
		assert.Less(t, len(chunks), 30)
		assert.Contains(t, chunks[len(chunks)-1].Content, "Sentence 29 ")
	})

	t.Run("Heuristic Counts Stay Within Max", func(t *testing.T) {
		c := NewChunker(HeuristicCounter{})

		var sb strings.Builder
		for i := 0; i < 119; i++ {
			sb.WriteString("Alpha beta gamma delta. ")
		}
		sb.WriteString("Omega" + strings.Repeat(" word", 149) + ". ")
		for i := 0; i < 300; i++ {
			sb.WriteString("Mixed" + strings.Repeat(" term", 2+(i*7)%23) + ". ")
		}

		chunks := c.Chunk(sb.String())
		require.Greater(t, len(chunks), 2)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Metadata.ChunkIndex)
			assert.Equal(t, HeuristicCounter{}.CountTokens(ch.Content), ch.Metadata.TokenCount)
			if len(SplitSentences(ch.Content)) > 1 {
				assert.LessOrEqual(t, ch.Metadata.TokenCount, DefaultMaxTokens, "chunk %d", i)
			}
		}
	})

	t.Run("Keywords Attached", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		chunks := c.Chunk("The river flowed past the mill. The river was cold.")
		require.Len(t, chunks, 1)
		assert.Equal(t, "river", chunks[0].Metadata.Keywords[0])
	})
}

func TestChunker_ChunkByChapters(t *testing.T) {
	t.Run("Splits On Headings", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		first := "Chapter 1: The Beginning\nIt was dark. The end came.\n"
		second := "Chapter 2: The Middle\nMore text here. Even more."
		chunks := c.ChunkByChapters(first + second)

		require.Len(t, chunks, 2)
		assert.Equal(t, 0, chunks[0].Metadata.ChunkIndex)
		assert.Equal(t, 1, chunks[1].Metadata.ChunkIndex)

		require.NotNil(t, chunks[0].Metadata.ChapterNumber)
		assert.Equal(t, 1, *chunks[0].Metadata.ChapterNumber)
		assert.Equal(t, "The Beginning", chunks[0].Metadata.ChapterTitle)

		require.NotNil(t, chunks[1].Metadata.ChapterNumber)
		assert.Equal(t, 2, *chunks[1].Metadata.ChapterNumber)
		assert.Equal(t, "The Middle", chunks[1].Metadata.ChapterTitle)

		assert.Equal(t, 0, chunks[0].Metadata.StartChar)
		assert.Equal(t, utf8.RuneCountInString(first), chunks[1].Metadata.StartChar)
	})

	t.Run("Heading Sentence Joined With Prose", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		text := "Chapter 1: The Beginning.\n" + strings.Repeat("It was a dark and stormy night by the old mill. ", 40)
		chunks := c.ChunkByChapters(text)

		require.NotEmpty(t, chunks)
		for _, ch := range chunks {
			assert.Equal(t, "The Beginning", ch.Metadata.ChapterTitle)
			require.NotNil(t, ch.Metadata.ChapterNumber)
			assert.Equal(t, 1, *ch.Metadata.ChapterNumber)
		}
	})

	t.Run("Segment Heading Fills Later Chunks", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(20), WithMaxTokens(30), WithOverlap(0))
		text := "Intro text lives here.\nPart 3: Winter\n" + buildBook(20)
		chunks := c.ChunkByChapters(text)
		require.Greater(t, len(chunks), 2)

		last := chunks[len(chunks)-1]
		require.NotNil(t, last.Metadata.ChapterNumber)
		assert.Equal(t, 3, *last.Metadata.ChapterNumber)
		assert.Equal(t, "Winter", last.Metadata.ChapterTitle)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Metadata.ChunkIndex)
		}
	})

	t.Run("No Headings Matches Flat Chunking", func(t *testing.T) {
		c := NewChunker(wordCounter{}, WithTargetTokens(50), WithMaxTokens(80), WithOverlap(10))
		text := buildBook(60)
		assert.Equal(t, c.Chunk(text), c.ChunkByChapters(text))
	})

	t.Run("Empty Input", func(t *testing.T) {
		c := NewChunker(wordCounter{})
		assert.Empty(t, c.ChunkByChapters(""))
		assert.Empty(t, c.ChunkByChapters("\n\n  "))
	})
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(nil)
	assert.Equal(t, DefaultTargetTokens, c.TargetTokens())
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens())
	assert.Equal(t, DefaultOverlapTokens, c.OverlapTokens())

	c = NewChunker(nil, WithTargetTokens(900), WithMaxTokens(500))
	assert.Equal(t, 500, c.TargetTokens())
}
