package ingest

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name   string
		expect Format
	}{
		{"policy.PDF", FormatPDF},
		{"terms.docx", FormatDOCX},
		{"notes.txt", FormatText},
	}
	for _, tc := range tests {
		got, err := DetectFormat(tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.expect, got)
	}

	_, err := DetectFormat("sheet.xlsx")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestSegmentText(t *testing.T) {
	path := writeFile(t, "policy.txt", "Clause one covers knee surgery.\n\n\n  Clause two   excludes\ncosmetic work.  \n\n")
	segs, err := NewSegmenter(0, 0).Segment(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Clause one covers knee surgery.",
		"Clause two excludes cosmetic work.",
	}, segs)
}

func TestSegmentSplitsLongParagraphs(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("Waiting periods apply to planned surgery. ")
	}
	path := writeFile(t, "long.txt", b.String())

	segs, err := NewSegmenter(50, 2).Segment(path)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "Waiting periods apply to planned surgery. Waiting periods apply to planned surgery.", segs[0])
}

func TestSegmentDOCX(t *testing.T) {
	path := writeDOCX(t,
		`<w:p><w:r><w:t>Section 4.</w:t></w:r><w:r><w:tab/><w:t>Exclusions</w:t></w:r></w:p>`+
			`<w:p></w:p>`+
			`<w:p><w:r><w:t xml:space="preserve">Cosmetic procedures </w:t></w:r><w:r><w:t>are excluded.</w:t></w:r></w:p>`)

	segs, err := NewSegmenter(0, 0).Segment(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Section 4. Exclusions", "Cosmetic procedures are excluded."}, segs)
}

func TestSegmentRejectsUnsupported(t *testing.T) {
	path := writeFile(t, "policy.xlsx", "irrelevant")
	_, err := NewSegmenter(0, 0).Segment(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
