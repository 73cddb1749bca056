package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTargetTokens  = 600
	DefaultMaxTokens     = 800
	DefaultOverlapTokens = 100
)

// chapterBoundaryRe matches a newline that directly precedes a chapter, part or section heading.
var chapterBoundaryRe = regexp.MustCompile(`(?i)\n(?:chapter|part|section)\s+\d+`)

// ChunkMetadata describes where a chunk came from. Character offsets count runes.
type ChunkMetadata struct {
	ChunkIndex    int
	TokenCount    int
	ChapterTitle  string
	ChapterNumber *int
	PageNumber    *int
	StartChar     int
	EndChar       int
	Keywords      []string
}

type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}

// Chunker splits book text into overlapping, token-bounded chunks on sentence boundaries.
type Chunker struct {
	targetTokens  int
	maxTokens     int
	overlapTokens int
	counter       TokenCounter
}

// Option configures the chunker.
type Option func(*Chunker)

// WithTargetTokens sets the size at which a chunk stops growing.
func WithTargetTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetTokens = n
		}
	}
}

// WithMaxTokens sets the hard token ceiling for multi-sentence chunks.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlap sets how many tokens of trailing sentences are repeated in the next chunk.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

func NewChunker(counter TokenCounter, opts ...Option) *Chunker {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	c := &Chunker{
		targetTokens:  DefaultTargetTokens,
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		counter:       counter,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.targetTokens > c.maxTokens {
		c.targetTokens = c.maxTokens
	}
	return c
}

// SplitSentences breaks text after '.', '!' or '?' when followed by
// whitespace and an uppercase letter. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r != '.' && r != '!' && r != '?' {
			i += size
			continue
		}

		end := i + size
		k := end
		for k < len(text) {
			ws, n := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(ws) {
				break
			}
			k += n
		}
		if k > end && k < len(text) {
			if next, _ := utf8.DecodeRuneInString(text[k:]); unicode.IsUpper(next) {
				add(text[start:end])
				start = k
				i = k
				continue
			}
		}
		i = end
	}
	add(text[start:])
	return sentences
}

// Chunk segments text into chunks numbered from zero in emission order.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	tokens := make([]int, len(sentences))
	for i, s := range sentences {
		tokens[i] = c.counter.CountTokens(s)
	}

	var chunks []Chunk
	pos := 0
	for start := 0; start < len(sentences); {
		end, content, count := c.accumulate(sentences, tokens, start)
		length := utf8.RuneCountInString(content)

		ch := DetectChapter(content)
		chunks = append(chunks, Chunk{
			Content: content,
			Metadata: ChunkMetadata{
				ChunkIndex:    len(chunks),
				TokenCount:    count,
				ChapterTitle:  ch.Title,
				ChapterNumber: ch.Number,
				StartChar:     pos,
				EndChar:       pos + length,
				Keywords:      ExtractKeywords(content, MaxKeywords),
			},
		})
		pos += length

		if end >= len(sentences)-1 {
			break
		}
		start = c.nextStart(tokens, start, end)
	}
	return chunks
}

// accumulate returns the index of the last sentence of the chunk beginning at
// start, the chunk text and its token count. Candidates are measured as joined
// text because counts of separate sentences need not add up. The first
// sentence is always taken, even when it alone exceeds maxTokens.
func (c *Chunker) accumulate(sentences []string, tokens []int, start int) (int, string, int) {
	end := start
	content := sentences[start]
	count := c.counter.CountTokens(content)
	for i := start + 1; i < len(sentences) && count < c.targetTokens; i++ {
		// Per-sentence counts cheaply rule out candidates that are clearly too long.
		if tokens[i] > c.maxTokens {
			break
		}
		candidate := content + " " + sentences[i]
		n := c.counter.CountTokens(candidate)
		if n > c.maxTokens {
			break
		}
		end, content, count = i, candidate, n
	}
	return end, content, count
}

// nextStart walks back from end until the overlap budget is spent. The result
// always lies in (start, end+1] so every iteration makes progress.
func (c *Chunker) nextStart(tokens []int, start, end int) int {
	back := end
	acc := 0
	for back > 0 && acc < c.overlapTokens {
		back--
		acc += tokens[back]
	}

	next := back + 1
	if next <= start {
		next = start + 1
	}
	if next > end+1 {
		next = end + 1
	}
	return next
}

type segment struct {
	text   string
	offset int
}

func splitChapters(text string) []segment {
	var segments []segment
	prev, offset := 0, 0
	for _, loc := range chapterBoundaryRe.FindAllStringIndex(text, -1) {
		cut := loc[0] + 1
		s := text[prev:cut]
		segments = append(segments, segment{text: s, offset: offset})
		offset += utf8.RuneCountInString(s)
		prev = cut
	}
	return append(segments, segment{text: text[prev:], offset: offset})
}

// ChunkByChapters splits text at chapter, part and section headings and chunks
// each segment on its own. Segment headings fill in chapter metadata that a
// chunk did not detect locally; indexes and offsets are global.
func (c *Chunker) ChunkByChapters(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var all []Chunk
	for _, seg := range splitChapters(text) {
		if strings.TrimSpace(seg.text) == "" {
			continue
		}
		heading := DetectChapter(seg.text)
		for _, ch := range c.Chunk(seg.text) {
			ch.Metadata.ChunkIndex = len(all)
			if ch.Metadata.ChapterTitle == "" {
				ch.Metadata.ChapterTitle = heading.Title
			}
			if ch.Metadata.ChapterNumber == nil {
				ch.Metadata.ChapterNumber = heading.Number
			}
			ch.Metadata.StartChar += seg.offset
			ch.Metadata.EndChar += seg.offset
			all = append(all, ch)
		}
	}

	if len(all) == 0 {
		return c.Chunk(text)
	}
	return all
}

func (c *Chunker) TargetTokens() int { return c.targetTokens }

func (c *Chunker) MaxTokens() int { return c.maxTokens }

func (c *Chunker) OverlapTokens() int { return c.overlapTokens }
