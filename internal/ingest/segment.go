package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions the segmenter cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file type")

// Format identifies a supported document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "txt"
)

// DetectFormat maps a file name onto a supported format.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	case "txt", "text", "md":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Segmenter splits documents into ordered text segments.
type Segmenter struct {
	maxSegmentChars   int
	sentencesPerChunk int
	sentenceSplitter  *regexp.Regexp
}

// NewSegmenter returns a segmenter that breaks paragraphs longer than
// maxSegmentChars into groups of sentencesPerChunk sentences.
func NewSegmenter(maxSegmentChars, sentencesPerChunk int) *Segmenter {
	if maxSegmentChars <= 0 {
		maxSegmentChars = 1200
	}
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	return &Segmenter{
		maxSegmentChars:   maxSegmentChars,
		sentencesPerChunk: sentencesPerChunk,
		sentenceSplitter:  regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Segment reads the file at path and returns its segments in document order.
func (s *Segmenter) Segment(path string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	var paragraphs []string
	switch format {
	case FormatPDF:
		paragraphs, err = readPDF(path)
	case FormatDOCX:
		paragraphs, err = readDOCX(path)
	case FormatText:
		paragraphs, err = readText(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}

	segments := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		segments = append(segments, s.split(p)...)
	}
	return segments, nil
}

// split keeps short paragraphs intact and breaks long ones on sentence
// boundaries.
func (s *Segmenter) split(paragraph string) []string {
	paragraph = collapseSpaces(paragraph)
	if paragraph == "" {
		return nil
	}
	if len(paragraph) <= s.maxSegmentChars {
		return []string{paragraph}
	}
	sentences := s.sentenceSplitter.FindAllString(paragraph, -1)
	if len(sentences) == 0 {
		return []string{paragraph}
	}
	var out []string
	for i := 0; i < len(sentences); i += s.sentencesPerChunk {
		end := i + s.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		parts := make([]string, 0, end-i)
		for _, sentence := range sentences[i:end] {
			if trimmed := strings.TrimSpace(sentence); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	return out
}

var (
	whitespaceRun  = regexp.MustCompile(`[ \t\r\f\v]+`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
)

func collapseSpaces(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

// splitParagraphs separates text on blank lines.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readText(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return splitParagraphs(string(data)), nil
}
