package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// FileParser 文件解析器接口
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(filename string) bool
}

var (
	hyphenBreak    = regexp.MustCompile(`(\w)-[ \t]*\n\s*(\w)`)
	pageFooter     = regexp.MustCompile(`Page \d+ of \d+`)
	documentHeader = regexp.MustCompile(`Insurance Policy Document[^\n]*?\d{4}`)
)

// CleanPageText 修复常见抽取问题：跨行连字符、页眉页脚、OCR误识别的'|'，并规整空白
func CleanPageText(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = pageFooter.ReplaceAllString(text, "")
	text = documentHeader.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", "I")
	return normalizeWhitespace(text)
}

// TextParser 文本文件解析器
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".txt" || ext == ".md" || ext == ".markdown"
}

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	return string(content), nil
}

// PDFParser PDF解析器，每页以 [Page n] 标记开头，页之间空行分隔
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", filename, err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", filename, err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("count pdf pages %s: %w", filename, err)
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("read page %d of %s: %w", i, filename, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i, filename, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i, filename, err)
		}
		pages = append(pages, FormatPage(i, text))
	}

	return strings.Join(pages, "\n\n"), nil
}

// FormatPage 生成带页码标记的页面文本
func FormatPage(number int, raw string) string {
	return fmt.Sprintf("[Page %d]\n%s", number, CleanPageText(raw))
}

// WordParser Word文档解析器
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".docx" || ext == ".doc"
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".doc" {
		return "", fmt.Errorf("legacy .doc is not supported, convert %s to .docx", filename)
	}

	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read docx %s: %w", filename, err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", filename, err)
	}
	defer doc.Close()

	// 每个Word段落之间留空行，供分块器识别段落边界
	var paragraphs []string
	for _, para := range doc.Paragraphs() {
		var textBuilder strings.Builder
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		if text := strings.TrimSpace(textBuilder.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

// ExcelParser Excel解析器，用于费率表等表格类条款
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xlsx" || ext == ".xls"
}

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".xls" {
		return "", fmt.Errorf("legacy .xls is not supported, convert %s to .xlsx", filename)
	}

	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read xlsx %s: %w", filename, err)
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("open xlsx %s: %w", filename, err)
	}
	defer ss.Close()

	var sheets []string
	for _, sheet := range ss.Sheets() {
		var textBuilder strings.Builder
		textBuilder.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			if len(cells) > 0 {
				textBuilder.WriteString(strings.Join(cells, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		sheets = append(sheets, strings.TrimSpace(textBuilder.String()))
	}

	return strings.Join(sheets, "\n\n"), nil
}

// FileParserManager 文件解析器管理器
type FileParserManager struct {
	parsers []FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	return &FileParserManager{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&TextParser{},
		},
	}
}

// Supports 是否有解析器支持该文件
func (m *FileParserManager) Supports(filename string) bool {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			return true
		}
	}
	return false
}

// ParseFile 解析文件
func (m *FileParserManager) ParseFile(reader io.Reader, filename string) (string, error) {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			return parser.Parse(reader, filename)
		}
	}
	return "", fmt.Errorf("unsupported file format: %s", filename)
}
