package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// headingLines is how many leading lines are inspected for a heading.
const headingLines = 3

// MaxTitleRunes caps a detected title. Longer captures are body text, not a heading.
const MaxTitleRunes = 200

// titleEndRe finds the end of the heading sentence when prose follows it on the same line.
var titleEndRe = regexp.MustCompile(`[.!?]\s`)

// Heading shapes in priority order. Group 1 is the number, group 2 the title.
var chapterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^chapter\s+(\d+)[:\-\s]*(.*)`),
	regexp.MustCompile(`(?i)^(\d+)\.\s*(.+)`),
	regexp.MustCompile(`(?i)^part\s+(\d+)[:\-\s]*(.*)`),
	regexp.MustCompile(`(?i)^section\s+(\d+)[:\-\s]*(.*)`),
}

// Chapter is a detected structural heading. Empty Title and nil Number mean absent.
type Chapter struct {
	Title  string
	Number *int
}

func (c Chapter) Found() bool {
	return c.Title != "" || c.Number != nil
}

// DetectChapter looks for a chapter, part or section heading in the first
// three lines of text and returns the first match.
func DetectChapter(text string) Chapter {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > headingLines {
		lines = lines[:headingLines]
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, re := range chapterPatterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			var ch Chapter
			if n, err := strconv.Atoi(m[1]); err == nil {
				ch.Number = &n
			}
			ch.Title = cleanTitle(m[2])
			return ch
		}
	}
	return Chapter{}
}

// cleanTitle keeps the heading sentence of a capture and caps its length.
// Chunk text is sentence-joined, so the heading and the prose after it can
// share one line.
func cleanTitle(s string) string {
	if loc := titleEndRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = strings.TrimRight(strings.TrimSpace(s), ".!?")
	if utf8.RuneCountInString(s) > MaxTitleRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxTitleRunes]))
	}
	return s
}
