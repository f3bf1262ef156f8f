package knowledge

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimensions 本地哈希向量维度
const DefaultHashDimensions = 384

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "that": {}, "the": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "what": {}, "when": {}, "which": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

// HashEmbedder 基于词袋哈希的本地Embedder，输出单位向量，无需外部服务
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder 创建哈希Embedder
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = h.vector(text)
	}
	return vectors, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		if trimmed := strings.ToLower(strings.TrimSpace(text)); trimmed != "" {
			tokens = []string{trimmed}
		}
	}
	for _, token := range tokens {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(token))
		vec[hasher.Sum32()%uint32(h.dimensions)]++
	}
	return l2Normalize(vec)
}

func (h *HashEmbedder) Dimensions() int {
	return h.dimensions
}

func (h *HashEmbedder) Model() string {
	return "hash"
}

func (h *HashEmbedder) Ready() bool {
	return true
}

// tokenize 小写切词，去停用词并去掉复数词尾
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stopWords[f]; skip {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = f[:len(f)-1]
		}
		tokens = append(tokens, f)
	}
	return tokens
}
