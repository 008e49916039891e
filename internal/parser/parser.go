package parser

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"notes-rag/internal/config"
	"notes-rag/internal/models"
)

const (
	TypePDF      = "application/pdf"
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var extensionTypes = map[string]string{
	".pdf":  TypePDF,
	".txt":  TypeText,
	".md":   TypeMarkdown,
	".docx": TypeDOCX,
	".xlsx": TypeXLSX,
}

var (
	docxTextRe      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
)

// Parser turns uploaded bytes into plain text. PDF and plain text are always
// accepted; DOCX, XLSX and Markdown only when extended formats are enabled.
type Parser struct {
	extended bool
}

func New(cfg *config.RAGConfig) *Parser {
	if cfg == nil {
		return &Parser{}
	}
	return &Parser{extended: cfg.ExtendedFormats}
}

// ContentTypeFromPath guesses the media type of a local file by extension.
func ContentTypeFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// Extract returns the text of data according to its declared content type.
func (p *Parser) Extract(data []byte, contentType string) (string, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	switch mediaType {
	case TypePDF:
		return parsePDF(data)
	case TypeText:
		return parseText(data)
	}

	if p.extended {
		switch mediaType {
		case TypeMarkdown:
			return parseMarkdown(data)
		case TypeDOCX:
			return parseDOCX(data)
		case TypeXLSX:
			return parseXLSX(data)
		}
	}

	return "", fmt.Errorf("%w: %s", models.ErrUnsupportedMediaType, contentType)
}

func parsePDF(data []byte) (content string, err error) {
	// ledongthuc/pdf panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			content = ""
			err = fmt.Errorf("%w: pdf: %v", models.ErrMalformedInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", models.ErrMalformedInput, err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: pdf page %d: %v", models.ErrMalformedInput, i, err)
		}
		sb.WriteString(pageText)
	}
	log.Debug().Int("pages", numPages).Int("chars", sb.Len()).Msg("Parsed PDF")
	return sb.String(), nil
}

func parseText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", models.ErrMalformedInput)
	}
	return string(data), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", models.ErrMalformedInput, err)
	}
	defer r.Close()

	// GetContent returns the raw document.xml body
	body := docxParagraphRe.ReplaceAllString(r.Editable().GetContent(), "\n</w:p>")
	var sb strings.Builder
	for _, line := range strings.Split(body, "\n") {
		var para strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(line, -1) {
			para.WriteString(html.UnescapeString(m[1]))
		}
		if para.Len() == 0 {
			continue
		}
		sb.WriteString(para.String())
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %v", models.ErrMalformedInput, err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		sb.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// parseMarkdown collects the plain text of a markdown document, one line per block.
func parseMarkdown(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: markdown is not valid UTF-8", models.ErrMalformedInput)
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var sb strings.Builder
	endLine := func() {
		s := sb.String()
		if len(s) > 0 && s[len(s)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				endLine()
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.Label(data))
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: markdown: %v", models.ErrMalformedInput, err)
	}
	return sb.String(), nil
}
