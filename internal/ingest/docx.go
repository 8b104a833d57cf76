package ingest

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// readDOCX streams the main document part of a .docx archive and returns one
// entry per non-empty paragraph.
func readDOCX(path string) ([]string, error) {
	r, closer, err := openDocumentPart(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	decoder := xml.NewDecoder(bufio.NewReader(r))
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
		inPara     bool
	)

	for {
		tok, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode token: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "p":
				inPara = true
				current.Reset()
			case "t":
				inText = true
			case "tab", "br", "cr":
				if inPara {
					current.WriteByte(' ')
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				inPara = false
				current.Reset()
			}
		case xml.CharData:
			if inText && inPara {
				current.Write(el)
			}
		}
	}
	return paragraphs, nil
}

func openDocumentPart(path string) (io.Reader, func(), error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = zr.Close()
			return nil, nil, err
		}
		closer := func() {
			_ = rc.Close()
			_ = zr.Close()
		}
		return rc, closer, nil
	}
	_ = zr.Close()
	return nil, nil, fmt.Errorf("no %s found in %s", docxBody, path)
}
