package knowledge

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk 检索单元，Ordinal 即其在索引中的向量ID
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Chunker 文本分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 300
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// Split 将文本切分为带序号的chunk
func (c *Chunker) Split(text string) []Chunk {
	texts := ChunkText(text, c.chunkSize, c.chunkOverlap)
	if len(texts) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Ordinal: i, Text: t}
	}
	return chunks
}

// ChunkText 按段落贪心合并，超长段落按句子切分，
// 并在相邻块之间插入重叠块：[c0, o01, c1, o12, c2, ...]
func ChunkText(text string, chunkSize, chunkOverlap int) []string {
	base := baseChunks(text, chunkSize)
	if chunkOverlap <= 0 || len(base) < 2 {
		return base
	}

	out := make([]string, 0, 2*len(base)-1)
	for i, chunk := range base {
		out = append(out, chunk)
		if i == len(base)-1 {
			break
		}
		current := strings.Fields(chunk)
		next := strings.Fields(base[i+1])
		if len(current) >= chunkOverlap && len(next) >= chunkOverlap {
			words := make([]string, 0, 2*chunkOverlap)
			words = append(words, current[len(current)-chunkOverlap:]...)
			words = append(words, next[:chunkOverlap]...)
			out = append(out, strings.Join(words, " "))
		}
	}
	return out
}

func baseChunks(text string, chunkSize int) []string {
	acc := &accumulator{limit: chunkSize}

	for _, raw := range paragraphBreak.Split(text, -1) {
		paragraph := normalizeWhitespace(raw)
		if paragraph == "" {
			continue
		}
		if utf8.RuneCountInString(paragraph) <= chunkSize {
			acc.add(paragraph)
			continue
		}
		acc.flush()
		for _, sentence := range splitSentences(paragraph) {
			acc.add(sentence)
		}
	}
	acc.flush()

	return acc.out
}

// accumulator 贪心合并文本片段，追加会超出上限时先输出当前缓冲
type accumulator struct {
	limit  int
	parts  []string
	length int
	out    []string
}

func (a *accumulator) add(piece string) {
	n := utf8.RuneCountInString(piece)
	if len(a.parts) > 0 && a.length+1+n > a.limit {
		a.flush()
	}
	if len(a.parts) > 0 {
		a.length++
	}
	a.parts = append(a.parts, piece)
	a.length += n
}

func (a *accumulator) flush() {
	if len(a.parts) == 0 {
		return
	}
	a.out = append(a.out, strings.Join(a.parts, " "))
	a.parts = a.parts[:0]
	a.length = 0
}

// splitSentences 在 . ! ? 后接空白处断句，输入须已规整空白
func splitSentences(paragraph string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(paragraph)-1; i++ {
		switch paragraph[i] {
		case '.', '!', '?':
			if paragraph[i+1] == ' ' {
				sentences = append(sentences, paragraph[start:i+1])
				start = i + 2
			}
		}
	}
	if start < len(paragraph) {
		sentences = append(sentences, paragraph[start:])
	}
	return sentences
}

func normalizeWhitespace(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	var prevSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			builder.WriteRune(' ')
			prevSpace = true
			continue
		}
		builder.WriteRune(r)
		prevSpace = false
	}

	return strings.TrimSpace(builder.String())
}
