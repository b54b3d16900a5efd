package ingest

import (
	"strings"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	text, err := ExtractText("notes.txt", "text/plain", []byte("Lamps   must be trimmed\n\tevery four hours.\n"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "Lamps must be trimmed every four hours." {
		t.Errorf("text = %q", text)
	}
}

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Logbook</title><style>p { color: red }</style></head>
<body>
<script>trackVisitor();</script>
<h1>Keeper's Logbook</h1>
<p>Day one: arrived at the <b>lighthouse</b>.</p>
<noscript>enable javascript</noscript>
</body>
</html>`

	text, err := ExtractText("log.html", "", []byte(page))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	for _, want := range []string{"Keeper's Logbook", "Day one: arrived at the lighthouse ."} {
		if !strings.Contains(text, want) {
			t.Errorf("text = %q, missing %q", text, want)
		}
	}
	for _, banned := range []string{"trackVisitor", "color: red", "Logbook</title>", "enable javascript"} {
		if strings.Contains(text, banned) {
			t.Errorf("text = %q, leaked %q", text, banned)
		}
	}
}

func TestHTMLDetectedByMimeAndExtension(t *testing.T) {
	// No doctype or html tag, so byte sniffing alone cannot tell.
	fragment := []byte("<p>just a <em>fragment</em></p>")

	text, err := ExtractText("x", "text/html", fragment)
	if err != nil {
		t.Fatalf("mime hint: %v", err)
	}
	if !strings.Contains(text, "just a fragment") {
		t.Errorf("mime hint text = %q", text)
	}

	text, err = ExtractText("fragment.htm", "", fragment)
	if err != nil {
		t.Fatalf("extension hint: %v", err)
	}
	if !strings.Contains(text, "just a fragment") {
		t.Errorf("extension hint text = %q", text)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i % 32)
	}
	if _, err := ExtractText("blob.bin", "application/octet-stream", binary); err == nil {
		t.Error("binary payload accepted")
	}
}

func TestExtractRejectsEmptyAndOversized(t *testing.T) {
	if _, err := ExtractText("empty.txt", "text/plain", nil); err == nil {
		t.Error("empty payload accepted")
	}
	if _, err := ExtractText("big.txt", "text/plain", make([]byte, maxDocBytes+1)); err == nil {
		t.Error("oversized payload accepted")
	}
}

func TestExtractRejectsFakePDF(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x02, 0x03}
	_, err := ExtractText("doc.pdf", "application/pdf", payload)
	if err == nil {
		t.Fatal("payload without a PDF header accepted as PDF")
	}
	if !strings.Contains(err.Error(), "claims PDF") {
		t.Errorf("err = %v", err)
	}
}

func TestIsProbablyText(t *testing.T) {
	if !isProbablyText([]byte("plain ascii with\nnewlines and unicode: café")) {
		t.Error("readable text rejected")
	}
	if isProbablyText([]byte{'a', 0x00, 'b'}) {
		t.Error("NUL byte accepted")
	}
}
