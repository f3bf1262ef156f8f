package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DocumentLoader 将文档路径（文件、目录或glob）解析为单个语料文本
type DocumentLoader struct {
	parsers *FileParserManager
	logger  *zap.Logger
}

// NewDocumentLoader 创建文档加载器
func NewDocumentLoader(parsers *FileParserManager, logger *zap.Logger) *DocumentLoader {
	if parsers == nil {
		parsers = NewFileParserManager()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentLoader{parsers: parsers, logger: logger}
}

// ResolveDocuments 展开文档路径：普通文件原样返回，目录取其下所有支持的文件，
// 其他情况按doublestar glob匹配。结果排序去重
func (l *DocumentLoader) ResolveDocuments(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("document path is empty")
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return []string{path}, nil
	case err == nil && info.IsDir():
		return l.glob(filepath.Join(path, "**", "*"))
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if !strings.ContainsAny(path, "*?[{") {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	files, err := l.glob(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no documents match %s", path)
	}
	return files, nil
}

// Supports 文件是否为可解析的文档类型
func (l *DocumentLoader) Supports(filename string) bool {
	return l.parsers.Supports(filename)
}

func (l *DocumentLoader) glob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if l.parsers.Supports(m) {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Load 抽取文档文本。多个文档时每个以 [Document: name] 开头，空行分隔；
// 多文档中单个失败会被跳过，全部失败或没有文本时返回DocumentUnreadable
func (l *DocumentLoader) Load(ctx context.Context, path string) (string, []string, error) {
	files, err := l.ResolveDocuments(path)
	if err != nil {
		return "", nil, apperrors.DocumentUnreadable(path, err)
	}
	if len(files) == 0 {
		return "", nil, apperrors.DocumentUnreadable(path, errors.New("no supported documents found"))
	}

	if len(files) == 1 {
		text, err := l.extract(files[0])
		if err != nil {
			return "", nil, apperrors.DocumentUnreadable(files[0], err)
		}
		if strings.TrimSpace(text) == "" {
			return "", nil, apperrors.DocumentUnreadable(files[0], errors.New("no extractable text"))
		}
		return text, files, nil
	}

	var parts []string
	var loaded []string
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		text, err := l.extract(file)
		if err != nil {
			l.logger.Warn("skipping unreadable document", zap.String("file", file), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[Document: %s]\n%s", filepath.Base(file), text))
		loaded = append(loaded, file)
	}
	if len(parts) == 0 {
		return "", nil, apperrors.DocumentUnreadable(path, errors.New("none of the documents could be read"))
	}

	l.logger.Info("documents extracted", zap.Int("documents", len(loaded)), zap.Int("skipped", len(files)-len(loaded)))
	return strings.Join(parts, "\n\n"), loaded, nil
}

func (l *DocumentLoader) extract(file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return l.parsers.ParseFile(f, filepath.Base(file))
}
