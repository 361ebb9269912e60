package slack

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Slack rejects messages above 4000 characters. The splitter stays well
// below that so part indicators and code fences always fit.
const (
	MaxTextLength = 3000
	MaxCodeLength = 2900
)

// Splitter breaks long bot replies into Slack-sized parts, preferring
// paragraph and line boundaries and keeping code fences balanced.
type Splitter struct {
	maxText int
	maxCode int
}

// NewSplitter creates a splitter with the default limits
func NewSplitter() *Splitter {
	return &Splitter{
		maxText: MaxTextLength,
		maxCode: MaxCodeLength,
	}
}

// NeedsSplitting reports whether message exceeds the applicable limit
func (s *Splitter) NeedsSplitting(message string, isCode bool) bool {
	limit := s.maxText
	if isCode {
		limit = s.maxCode
	}
	return len(message) > limit
}

// Split breaks message into parts that each fit one Slack message.
// Multi-part results carry a part indicator header.
func (s *Splitter) Split(message string, isCode bool) []string {
	if !s.NeedsSplitting(message, isCode) {
		return []string{message}
	}

	var parts []string
	if isCode {
		parts = s.splitCode(message)
	} else {
		parts = s.splitText(message)
	}

	return s.addPartIndicators(parts)
}

// splitText splits on paragraph boundaries, falling back to sentences
// for oversized paragraphs
func (s *Splitter) splitText(message string) []string {
	var parts []string
	var current strings.Builder

	for _, paragraph := range strings.Split(message, "\n\n") {
		candidate := paragraph + "\n\n"

		if current.Len()+len(candidate) <= s.maxText {
			current.WriteString(candidate)
			continue
		}

		if current.Len() > 0 {
			parts = append(parts, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}

		if len(candidate) <= s.maxText {
			current.WriteString(candidate)
			continue
		}

		for _, piece := range s.splitBySentences(paragraph) {
			parts = append(parts, piece)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, strings.TrimRight(current.String(), "\n"))
	}

	return parts
}

// splitBySentences splits an oversized paragraph, hard-cutting sentences
// that alone exceed the limit
func (s *Splitter) splitBySentences(paragraph string) []string {
	var parts []string
	var current strings.Builder

	for _, sentence := range strings.SplitAfter(paragraph, ". ") {
		if len(sentence) > s.maxText {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			for len(sentence) > s.maxText {
				cut := truncateIndex(sentence, s.maxText)
				parts = append(parts, sentence[:cut])
				sentence = sentence[cut:]
			}
			current.WriteString(sentence)
			continue
		}

		if current.Len()+len(sentence) > s.maxText {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// splitCode splits a fenced code block by lines, re-fencing each part so
// Slack renders every piece as code
func (s *Splitter) splitCode(message string) []string {
	lang, body, fenced := parseFence(message)
	if !fenced {
		return s.splitText(message)
	}

	open := "```" + lang + "\n"
	closing := "\n```"
	budget := s.maxCode - len(open) - len(closing)

	var parts []string
	var current strings.Builder

	for _, line := range strings.Split(body, "\n") {
		// A single line above the budget gets hard-cut into full parts
		for len(line) > budget {
			if current.Len() > 0 {
				parts = append(parts, open+strings.TrimRight(current.String(), "\n")+closing)
				current.Reset()
			}
			cut := truncateIndex(line, budget)
			parts = append(parts, open+line[:cut]+closing)
			line = line[cut:]
		}

		if current.Len()+len(line)+1 > budget && current.Len() > 0 {
			parts = append(parts, open+strings.TrimRight(current.String(), "\n")+closing)
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if current.Len() > 0 {
		parts = append(parts, open+strings.TrimRight(current.String(), "\n")+closing)
	}

	return parts
}

// truncateIndex returns the largest cut point not above limit that does
// not land inside a UTF-8 rune
func truncateIndex(s string, limit int) int {
	if len(s) <= limit {
		return len(s)
	}
	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// parseFence extracts the language tag and body of a fenced code block
func parseFence(message string) (lang, body string, ok bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return "", "", false
	}

	inner := trimmed[3 : len(trimmed)-3]
	newline := strings.IndexByte(inner, '\n')
	if newline < 0 {
		return "", inner, true
	}

	first := inner[:newline]
	if first != "" && !strings.ContainsAny(first, " \t") {
		return first, strings.Trim(inner[newline+1:], "\n"), true
	}
	return "", strings.Trim(inner, "\n"), true
}

func (s *Splitter) addPartIndicators(parts []string) []string {
	if len(parts) <= 1 {
		return parts
	}

	out := make([]string, len(parts))
	for i, part := range parts {
		out[i] = fmt.Sprintf("*Part %d/%d*\n%s", i+1, len(parts), part)
	}
	return out
}
