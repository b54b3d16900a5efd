// Package ingest extracts plain text from reference material (PDF, HTML,
// plain text) so it can be folded into first-stage prompts.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// maxDocBytes caps a single reference document. Larger uploads are rejected
// rather than truncated silently.
const maxDocBytes = 10 << 20

// ExtractText sniffs the payload's real type from its bytes and extracts
// plain text. The declared MIME type and filename extension are only
// consulted when sniffing is inconclusive.
func ExtractText(name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document %q", name)
	}
	if len(data) > maxDocBytes {
		return "", fmt.Errorf("document %q exceeds %d bytes", name, maxDocBytes)
	}

	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if isPDF(data) {
		return extractPDF(data)
	}
	if looksLikeHTML(data) || mt == "text/html" || hasExt(name, ".html", ".htm") {
		return extractHTML(data)
	}
	if isProbablyText(data) {
		return collapse(string(data)), nil
	}
	if mt == "application/pdf" || hasExt(name, ".pdf") {
		return "", fmt.Errorf("document %q claims PDF but has no %%PDF header", name)
	}
	return "", fmt.Errorf("unsupported document type for %q (mime %q)", name, mimeType)
}

func isPDF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF-"))
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 2048)])))
	return strings.HasPrefix(head, "<!doctype") ||
		strings.HasPrefix(head, "<html") ||
		(strings.Contains(head, "<html") && strings.Contains(string(b), "</html>"))
}

// isProbablyText accepts payloads that are overwhelmingly printable and
// carry no NUL bytes.
func isProbablyText(b []byte) bool {
	sample := b[:min(len(b), 4096)]
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

func hasExt(name string, exts ...string) bool {
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	text := collapse(string(b))
	if text == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return text, nil
}

// extractHTML collects text nodes, skipping script and style subtrees.
func extractHTML(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var out strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				text := collapse(out.String())
				if text == "" {
					return "", fmt.Errorf("html contains no extractable text")
				}
				return text, nil
			}
			return "", fmt.Errorf("parsing html: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				out.Write(z.Text())
				out.WriteByte(' ')
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "head":
		return true
	}
	return false
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}
