package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Page is the extracted text of one page, numbered from 1.
type Page struct {
	Num  int
	Text string
}

// DefaultPageChars is the chunk size used for plain text without form feeds.
const DefaultPageChars = 3000

// ExtractPages splits a document into pages. PDFs are read page by page;
// text is split on form feeds, or into chunks of about pageChars characters
// on paragraph boundaries when it has none. Blank pages are dropped; the
// others keep their original numbers.
func ExtractPages(contentType string, data []byte, pageChars int) ([]Page, error) {
	if pageChars <= 0 {
		pageChars = DefaultPageChars
	}
	if contentType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")) {
		return pdfPages(data)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("unsupported content type %q: not valid UTF-8 text", contentType)
	}
	return textPages(string(data), pageChars), nil
}

func pdfPages(data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, Page{Num: i, Text: text})
		}
	}
	return pages, nil
}

func textPages(s string, pageChars int) []Page {
	var parts []string
	if strings.Contains(s, "\f") {
		parts = strings.Split(s, "\f")
	} else {
		parts = chunkParagraphs(s, pageChars)
	}
	var pages []Page
	for i, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, Page{Num: i + 1, Text: p})
		}
	}
	return pages
}

// chunkParagraphs groups blank-line separated paragraphs into chunks of at
// most limit runes. A single paragraph longer than limit becomes its own
// chunk.
func chunkParagraphs(s string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+utf8.RuneCountInString(para) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
