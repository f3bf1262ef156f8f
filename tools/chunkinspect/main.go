package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/aihub/policy-assistant/internal/knowledge"
	"go.uber.org/zap"
)

func main() {
	var (
		docs    = flag.String("docs", "data/policy_documents.pdf", "文档路径、目录或glob")
		size    = flag.Int("size", 300, "chunk大小（字符）")
		overlap = flag.Int("overlap", 50, "chunk重叠（字符）")
		full    = flag.Bool("full", false, "打印每个chunk的全文")
	)
	flag.Parse()

	if *overlap >= *size {
		fmt.Fprintf(os.Stderr, "错误: overlap (%d) 必须小于 size (%d)\n", *overlap, *size)
		os.Exit(1)
	}

	loader := knowledge.NewDocumentLoader(knowledge.NewFileParserManager(), zap.NewNop())
	chunker := knowledge.NewChunker(*size, *overlap)
	if err := inspect(context.Background(), os.Stdout, loader, chunker, *docs, *full); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// inspect 打印文档的分块结果和边界分析
func inspect(ctx context.Context, out io.Writer, loader *knowledge.DocumentLoader, chunker *knowledge.Chunker, path string, full bool) error {
	text, files, err := loader.Load(ctx, path)
	if err != nil {
		return err
	}
	chunks := chunker.Split(text)

	fmt.Fprintf(out, "文档数: %d\n", len(files))
	fmt.Fprintf(out, "原始文本长度: %d 字符\n", utf8.RuneCountInString(text))
	fmt.Fprintf(out, "分块数量: %d\n\n", len(chunks))

	for i, chunk := range chunks {
		fmt.Fprintf(out, "块 #%d: %d字符", chunk.Ordinal, utf8.RuneCountInString(chunk.Text))
		if i < len(chunks)-1 && !endsSentence(chunk.Text) {
			fmt.Fprint(out, "  (未在句末断开)")
		}
		fmt.Fprintln(out)
		if full {
			fmt.Fprintf(out, "%s\n%s\n", chunk.Text, strings.Repeat("-", 80))
		}
	}
	return nil
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?。！？", r)
}
