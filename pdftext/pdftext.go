// Package pdftext pulls readable text out of PDF announcements.
package pdftext

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extract returns the text of every page in data. Unreadable documents
// yield ("", false); the cause is logged.
func Extract(data []byte, logger *slog.Logger) (string, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	text, err := extract(data)
	if err != nil {
		logger.Warn("pdf text extraction failed", slog.Int("bytes", len(data)), slog.Any("error", err))
		return "", false
	}
	if text == "" {
		logger.Debug("pdf has no extractable text", slog.Int("bytes", len(data)))
		return "", false
	}
	return text, true
}

func extract(data []byte) (text string, err error) {
	// pdfcpu panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var pages []string
	for nr := 1; nr <= ctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		if page := streamText(content); page != "" {
			pages = append(pages, page)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// streamText interprets the text-showing operators of a content stream.
// Operands are collected until an operator token consumes or discards them.
func streamText(content []byte) string {
	var (
		out     strings.Builder
		pending []string
	)
	flush := func(prefix string) {
		if len(pending) == 0 {
			return
		}
		out.WriteString(prefix)
		out.WriteString(strings.Join(pending, ""))
		pending = pending[:0]
	}

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case isPDFSpace(c) || c == '[' || c == ']':
			i++
		case c == '%':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := literalString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(content) && content[i+1] == '<':
			i = skipDict(content, i)
		case c == '<':
			s, next := hexString(content, i)
			pending = append(pending, s)
			i = next
		case c == '/':
			i = skipToken(content, i+1)
		default:
			start := i
			i = skipToken(content, i+1)
			op := string(content[start:i])
			switch op {
			case "Tj", "TJ":
				flush("")
			case "'", "\"":
				flush("\n")
			case "Td", "TD", "Tm":
				out.WriteByte(' ')
				pending = pending[:0]
			case "T*", "ET":
				out.WriteByte('\n')
				pending = pending[:0]
			default:
				if !isNumber(op) {
					pending = pending[:0]
				}
			}
		}
	}
	return tidy(out.String())
}

func literalString(content []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '\\' && i+1 < len(content):
			i++
			i = unescape(&sb, content, i)
			continue
		case c == '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

// unescape writes the escape sequence starting at content[i] and returns the
// index after it.
func unescape(sb *strings.Builder, content []byte, i int) int {
	c := content[i]
	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'b', 'f':
	case '\r', '\n':
		// Line continuation.
	default:
		if c >= '0' && c <= '7' {
			val := 0
			n := 0
			for n < 3 && i < len(content) && content[i] >= '0' && content[i] <= '7' {
				val = val*8 + int(content[i]-'0')
				i++
				n++
			}
			sb.WriteByte(byte(val))
			return i
		}
		sb.WriteByte(c)
	}
	return i + 1
}

func hexString(content []byte, i int) (string, int) {
	end := bytes.IndexByte(content[i:], '>')
	if end < 0 {
		return "", len(content)
	}
	raw := bytes.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, content[i+1:i+end])
	if len(raw)%2 == 1 {
		raw = append(raw, '0')
	}
	decoded := make([]byte, hex.DecodedLen(len(raw)))
	if _, err := hex.Decode(decoded, raw); err != nil {
		return "", i + end + 1
	}
	return string(decoded), i + end + 1
}

func skipDict(content []byte, i int) int {
	depth := 0
	for i+1 < len(content) {
		switch {
		case content[i] == '<' && content[i+1] == '<':
			depth++
			i += 2
		case content[i] == '>' && content[i+1] == '>':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(content)
}

func skipToken(content []byte, i int) int {
	for i < len(content) && !isPDFSpace(content[i]) && !isDelimiter(content[i]) {
		i++
	}
	return i
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isNumber(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return true
}

// tidy collapses runs of blanks within lines and drops empty lines.
func tidy(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return unicode.IsSpace(r) || !unicode.IsPrint(r)
		})
		if len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
