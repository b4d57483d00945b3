package pdftext

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestStreamText(t *testing.T) {
	tests := []struct {
		name     string
		stream   string
		expected string
	}{
		{
			name:     "show string",
			stream:   "BT /F1 12 Tf 72 712 Td (Isplata dividende) Tj ET",
			expected: "Isplata dividende",
		},
		{
			name:     "kerned array",
			stream:   "BT [(Divi) -20 (denda) 120 ( 8,40 RSD)] TJ ET",
			expected: "Dividenda 8,40 RSD",
		},
		{
			name:     "next line operators",
			stream:   "BT (Prvi red) Tj T* (Drugi red) Tj (Treci red) ' ET",
			expected: "Prvi red\nDrugi red\nTreci red",
		},
		{
			name:     "escapes and nesting",
			stream:   `BT (Cena \(RSD\): 1\0567) Tj (a (b) c) Tj ET`,
			expected: "Cena (RSD): 1.7a (b) c",
		},
		{
			name:     "hex string",
			stream:   "BT <4E49 53> Tj ET",
			expected: "NIS",
		},
		{
			name:     "non text operators ignored",
			stream:   "q 1 0 0 1 0 0 cm << /MCID 0 >> BDC (x) Do Q",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := streamText([]byte(tt.stream)); got != tt.expected {
				t.Fatalf("streamText(%q) = %q, want %q", tt.stream, got, tt.expected)
			}
		})
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not a pdf"), []byte("%PDF-1.4\n%%EOF")} {
		if text, ok := Extract(data, nil); ok {
			t.Fatalf("Extract(%q) = %q, want absence", data, text)
		}
	}
}

func TestExtractSinglePage(t *testing.T) {
	data := buildPDF("BT /F1 12 Tf 72 712 Td (Odluka o isplati dividende 16.10.2026.) Tj ET")

	text, ok := Extract(data, nil)
	if !ok {
		t.Fatalf("expected text")
	}
	if !strings.Contains(text, "Odluka o isplati dividende 16.10.2026.") {
		t.Fatalf("text = %q", text)
	}
}

// buildPDF writes a one-page PDF whose page content is stream.
func buildPDF(stream string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
