package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/knowledge"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// 知识库来源
const (
	SourceLoaded   = "loaded"
	SourceBuilt    = "built"
	SourceDegraded = "degraded"
)

// ErrBuildInProgress 已有构建在进行
var ErrBuildInProgress = errors.New("knowledge base build already in progress")

// KnowledgeBase 只读的索引与chunk快照，只能整体替换
type KnowledgeBase struct {
	Index     knowledge.SimilarityIndex
	Chunks    []knowledge.Chunk
	Source    string
	BuiltAt   time.Time
	Documents []string
}

// KnowledgeStatus 知识库状态
type KnowledgeStatus struct {
	Ready     bool      `json:"ready"`
	Building  bool      `json:"building"`
	Source    string    `json:"source,omitempty"`
	IndexKind string    `json:"index_kind,omitempty"`
	Chunks    int       `json:"chunks"`
	Documents []string  `json:"documents,omitempty"`
	BuiltAt   time.Time `json:"built_at,omitempty"`
}

// KnowledgeBaseOptions 构建参数
type KnowledgeBaseOptions struct {
	DocumentPath  string
	BatchSize     int
	WatchDebounce time.Duration
}

// KnowledgeBaseService 负责知识库的加载、构建与重建替换
type KnowledgeBaseService struct {
	loader   *knowledge.DocumentLoader
	chunker  *knowledge.Chunker
	embedder knowledge.Embedder
	indexer  *knowledge.Indexer
	store    *knowledge.IndexStore
	metrics  *MetricsService
	opts     KnowledgeBaseOptions
	logger   *zap.Logger

	buildMu  sync.Mutex
	building atomic.Bool
	current  atomic.Pointer[KnowledgeBase]
	docPath  atomic.Value
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(
	loader *knowledge.DocumentLoader,
	chunker *knowledge.Chunker,
	embedder knowledge.Embedder,
	indexer *knowledge.Indexer,
	store *knowledge.IndexStore,
	metrics *MetricsService,
	opts KnowledgeBaseOptions,
	logger *zap.Logger,
) *KnowledgeBaseService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = knowledge.DefaultEmbeddingBatchSize
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = 2 * time.Second
	}
	if metrics == nil {
		metrics = NewMetricsService()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KnowledgeBaseService{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		indexer:  indexer,
		store:    store,
		metrics:  metrics,
		opts:     opts,
		logger:   logger,
	}
	s.docPath.Store(opts.DocumentPath)
	return s
}

// DocumentPath 当前知识库的文档路径
func (s *KnowledgeBaseService) DocumentPath() string {
	return s.docPath.Load().(string)
}

// Current 当前快照，初始化完成前为nil
func (s *KnowledgeBaseService) Current() *KnowledgeBase {
	return s.current.Load()
}

// Ready 是否可以提供查询
func (s *KnowledgeBaseService) Ready() bool {
	return s.current.Load() != nil
}

// Status 返回知识库状态
func (s *KnowledgeBaseService) Status() KnowledgeStatus {
	status := KnowledgeStatus{Building: s.building.Load()}
	kb := s.current.Load()
	if kb == nil {
		return status
	}
	status.Ready = true
	status.Source = kb.Source
	status.Chunks = len(kb.Chunks)
	status.Documents = kb.Documents
	status.BuiltAt = kb.BuiltAt
	if kb.Index != nil {
		status.IndexKind = string(kb.Index.Kind())
	}
	return status
}

// BuildOrLoadKnowledgeBase 初始化屏障：优先加载持久化索引，没有时从文档构建并保存。
// 同一时间只有一个构建，调用方阻塞直到完成
func (s *KnowledgeBaseService) BuildOrLoadKnowledgeBase(ctx context.Context, documentPath string) (*KnowledgeBase, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if documentPath == "" {
		documentPath = s.DocumentPath()
	}
	// 等待期间已由其他调用完成初始化
	if kb := s.current.Load(); kb != nil && documentPath == s.DocumentPath() {
		return kb, nil
	}
	s.docPath.Store(documentPath)
	s.building.Store(true)
	defer s.building.Store(false)

	result := s.store.Load(ctx)
	switch result.Status {
	case knowledge.Fatal:
		return nil, apperrors.IndexCorrupt("index store unusable", result.Err)

	case knowledge.Loaded:
		kb := &KnowledgeBase{
			Index:   result.Index,
			Chunks:  result.Chunks,
			Source:  SourceLoaded,
			BuiltAt: result.CreatedAt,
		}
		s.swap(kb)
		return kb, nil
	}

	if result.Missing {
		s.logger.Info("no persisted index, building knowledge base", zap.String("documents", documentPath))
		kb, err := s.build(ctx, documentPath)
		if err != nil {
			return nil, err
		}
		s.swap(kb)
		return kb, nil
	}

	// 索引损坏：尝试重建，失败时以空索引降级服务
	kb, err := s.build(ctx, documentPath)
	if err != nil {
		s.logger.Error("rebuild after corrupt index failed, serving empty knowledge base",
			zap.NamedError("load_error", result.Err),
			zap.Error(err))
		kb = &KnowledgeBase{
			Index:   result.Index,
			Chunks:  result.Chunks,
			Source:  SourceDegraded,
			BuiltAt: time.Now(),
		}
	}
	s.swap(kb)
	return kb, nil
}

// Rebuild 从文档重新构建并整体替换快照；已有构建进行时返回ErrBuildInProgress
func (s *KnowledgeBaseService) Rebuild(ctx context.Context) (*KnowledgeBase, error) {
	if !s.buildMu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer s.buildMu.Unlock()
	s.building.Store(true)
	defer s.building.Store(false)

	kb, err := s.build(ctx, s.DocumentPath())
	if err != nil {
		return nil, err
	}
	s.swap(kb)
	return kb, nil
}

func (s *KnowledgeBaseService) swap(kb *KnowledgeBase) {
	s.current.Store(kb)
	kind := ""
	if kb.Index != nil {
		kind = string(kb.Index.Kind())
	}
	s.metrics.RecordIndex(kb.Source, kind, len(kb.Chunks))
	s.logger.Info("knowledge base ready",
		zap.String("source", kb.Source),
		zap.String("kind", kind),
		zap.Int("chunks", len(kb.Chunks)))
}

// build 抽取、分块、向量化、建索引并保存
func (s *KnowledgeBaseService) build(ctx context.Context, documentPath string) (*KnowledgeBase, error) {
	start := time.Now()

	text, files, err := s.loader.Load(ctx, documentPath)
	if err != nil {
		return nil, err
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, apperrors.IndexBuildInvalid("documents produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := knowledge.EmbedAll(ctx, s.embedder, texts, s.opts.BatchSize, func(done, total int) {
		s.logger.Debug("embedding chunks", zap.Int("done", done), zap.Int("total", total))
	})
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeInternalServer, "embedding documents failed").WithCause(err)
	}

	index, err := s.indexer.Build(ctx, chunks, embeddings)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, index, chunks); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	s.logger.Info("knowledge base built",
		zap.Int("documents", len(files)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))

	return &KnowledgeBase{
		Index:     index,
		Chunks:    chunks,
		Source:    SourceBuilt,
		BuiltAt:   time.Now(),
		Documents: files,
	}, nil
}

// Watch 监听文档变化，静默期后重建。ctx 结束时停止
func (s *KnowledgeBaseService) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dirs, err := watchDirs(s.DocumentPath())
	if err != nil {
		watcher.Close()
		return err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	s.logger.Info("watching documents", zap.Strings("dirs", dirs), zap.Duration("debounce", s.opts.WatchDebounce))

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *KnowledgeBaseService) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !s.relevant(event.Name) {
				continue
			}
			s.logger.Debug("document changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.AfterFunc(s.opts.WatchDebounce, func() { s.rebuildFromWatch(ctx) })
			} else {
				timer.Reset(s.opts.WatchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("document watcher error", zap.Error(err))
		}
	}
}

func (s *KnowledgeBaseService) rebuildFromWatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Rebuild(ctx); err != nil {
		s.logger.Error("rebuild after document change failed", zap.Error(err))
	}
}

// relevant 变化的文件是否属于文档集合
func (s *KnowledgeBaseService) relevant(name string) bool {
	if !s.loader.Supports(name) {
		return false
	}
	path := s.DocumentPath()
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return filepath.Clean(name) == filepath.Clean(path)
		}
		return true
	}
	ok, err := doublestar.Match(filepath.ToSlash(path), filepath.ToSlash(name))
	return err == nil && ok
}

// watchDirs 文档路径对应需要监听的目录；fsnotify不递归，子目录逐个加入
func watchDirs(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("document path is empty")
	}
	root := path
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return []string{filepath.Dir(path)}, nil
		}
	} else {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(path))
		root = filepath.FromSlash(base)
	}

	var dirs []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return dirs, nil
}
