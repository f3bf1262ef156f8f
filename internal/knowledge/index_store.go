package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/storage"
	"go.uber.org/zap"
)

const (
	IndexFileName    = "index.gob"
	MetadataFileName = "chunks.json"

	// FallbackDimension 无法得知Embedder维度时空索引使用的维度
	FallbackDimension = 384
)

// MetadataFormat chunk元数据的存储格式
type MetadataFormat int

const (
	FormatUnknown MetadataFormat = iota
	// FormatLegacy 旧版：裸字符串数组
	FormatLegacy
	// FormatCurrent 当前：{chunks, count, created_at}
	FormatCurrent
)

func (f MetadataFormat) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// LoadStatus 加载结果
type LoadStatus int

const (
	Loaded LoadStatus = iota
	RecoveredEmpty
	Fatal
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case RecoveredEmpty:
		return "recovered_empty"
	default:
		return "fatal"
	}
}

// LoadResult 加载结果。RecoveredEmpty 时 Index 为空精确索引、Chunks 为空，
// Err 记录恢复原因；Missing 表示磁盘上本就没有产物
type LoadResult struct {
	Status    LoadStatus
	Index     SimilarityIndex
	Chunks    []Chunk
	Format    MetadataFormat
	CreatedAt time.Time
	Missing   bool
	Err       error
}

// ArtifactMirror 索引产物的远端副本
type ArtifactMirror interface {
	Upload(ctx context.Context, name, localPath string) error
	Download(ctx context.Context, name, localPath string) (bool, error)
}

type metadataRecord struct {
	Chunks    []string  `json:"chunks"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

type chunkMetadata struct {
	Format    MetadataFormat
	Chunks    []string
	CreatedAt time.Time
}

// decodeChunkMetadata 识别旧版数组或当前记录格式
func decodeChunkMetadata(raw []byte) (chunkMetadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return chunkMetadata{}, errors.New("metadata is empty")
	}

	switch trimmed[0] {
	case '[':
		var chunks []string
		if err := json.Unmarshal(trimmed, &chunks); err != nil {
			return chunkMetadata{}, fmt.Errorf("decode legacy metadata: %w", err)
		}
		return chunkMetadata{Format: FormatLegacy, Chunks: chunks}, nil
	case '{':
		var record struct {
			Chunks    *[]string `json:"chunks"`
			Count     *int      `json:"count"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return chunkMetadata{}, fmt.Errorf("decode metadata record: %w", err)
		}
		if record.Chunks == nil {
			return chunkMetadata{}, errors.New("metadata record has no chunks")
		}
		if record.Count == nil || *record.Count != len(*record.Chunks) {
			return chunkMetadata{}, fmt.Errorf("metadata count does not match %d chunks", len(*record.Chunks))
		}
		return chunkMetadata{Format: FormatCurrent, Chunks: *record.Chunks, CreatedAt: record.CreatedAt}, nil
	default:
		return chunkMetadata{}, errors.New("unrecognized metadata format")
	}
}

// IndexStore 索引与chunk元数据的持久化
type IndexStore struct {
	dir       string
	dimension int
	mirror    ArtifactMirror
	logger    *zap.Logger
	now       func() time.Time
}

// NewIndexStore 创建存储，dimension 为当前Embedder的维度
func NewIndexStore(dir string, dimension int, mirror ArtifactMirror, logger *zap.Logger) *IndexStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexStore{
		dir:       dir,
		dimension: dimension,
		mirror:    mirror,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *IndexStore) indexPath() string    { return filepath.Join(s.dir, IndexFileName) }
func (s *IndexStore) metadataPath() string { return filepath.Join(s.dir, MetadataFileName) }

// Exists 两个产物是否都在本地
func (s *IndexStore) Exists() bool {
	return s.dir != "" && storage.FileExists(s.indexPath()) && storage.FileExists(s.metadataPath())
}

// Save 先写索引再写元数据，两者均为原子替换
func (s *IndexStore) Save(ctx context.Context, index SimilarityIndex, chunks []Chunk) error {
	if s.dir == "" {
		return errors.New("index store path is empty")
	}
	if index.Len() != len(chunks) {
		return apperrors.IndexBuildInvalid(fmt.Sprintf("index holds %d vectors for %d chunks", index.Len(), len(chunks)))
	}

	var buf bytes.Buffer
	if err := EncodeIndex(&buf, index); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := storage.WriteFileAtomic(s.indexPath(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	meta, err := json.Marshal(metadataRecord{Chunks: texts, Count: len(texts), CreatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := storage.WriteFileAtomic(s.metadataPath(), meta, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	s.logger.Info("index saved",
		zap.String("dir", s.dir),
		zap.String("kind", string(index.Kind())),
		zap.Int("chunks", len(chunks)))

	if s.mirror != nil {
		for name, path := range map[string]string{IndexFileName: s.indexPath(), MetadataFileName: s.metadataPath()} {
			if err := s.mirror.Upload(ctx, name, path); err != nil {
				s.logger.Warn("index mirror upload failed", zap.String("artifact", name), zap.Error(err))
			}
		}
	}
	return nil
}

// Load 读取持久化索引。产物缺失、损坏或不一致时返回 RecoveredEmpty，不返回错误
func (s *IndexStore) Load(ctx context.Context) LoadResult {
	if s.dir == "" {
		return LoadResult{Status: Fatal, Err: errors.New("index store path is empty")}
	}

	s.restoreFromMirror(ctx)

	rawIndex, err := os.ReadFile(s.indexPath())
	if err != nil {
		return s.recovered(storage.IsNotExist(err) && !storage.FileExists(s.metadataPath()),
			apperrors.IndexCorrupt("index artifact unreadable", err))
	}
	rawMeta, err := os.ReadFile(s.metadataPath())
	if err != nil {
		return s.recovered(false, apperrors.IndexCorrupt("metadata artifact unreadable", err))
	}

	index, err := DecodeIndex(bytes.NewReader(rawIndex))
	if err != nil {
		return s.recovered(false, apperrors.IndexCorrupt("index artifact undecodable", err))
	}
	meta, err := decodeChunkMetadata(rawMeta)
	if err != nil {
		return s.recovered(false, apperrors.IndexCorrupt("metadata undecodable", err))
	}
	if index.Len() != len(meta.Chunks) {
		return s.recovered(false, apperrors.IndexCorrupt(
			fmt.Sprintf("index holds %d vectors for %d chunks", index.Len(), len(meta.Chunks)), nil))
	}
	if s.dimension > 0 && index.Dimension() != s.dimension {
		return s.recovered(false, apperrors.IndexCorrupt(
			fmt.Sprintf("index dimension %d does not match embedder dimension %d", index.Dimension(), s.dimension), nil))
	}

	chunks := make([]Chunk, len(meta.Chunks))
	for i, text := range meta.Chunks {
		chunks[i] = Chunk{Ordinal: i, Text: text}
	}

	s.logger.Info("index loaded",
		zap.String("dir", s.dir),
		zap.String("kind", string(index.Kind())),
		zap.String("format", meta.Format.String()),
		zap.Int("chunks", len(chunks)))

	return LoadResult{
		Status:    Loaded,
		Index:     index,
		Chunks:    chunks,
		Format:    meta.Format,
		CreatedAt: meta.CreatedAt,
	}
}

func (s *IndexStore) recovered(missing bool, cause error) LoadResult {
	dim := s.dimension
	if dim <= 0 {
		dim = FallbackDimension
	}
	if !missing {
		s.logger.Warn("index artifacts unusable, starting with empty index", zap.String("dir", s.dir), zap.Error(cause))
	}
	return LoadResult{
		Status:  RecoveredEmpty,
		Index:   NewFlatIndex(dim),
		Chunks:  []Chunk{},
		Missing: missing,
		Err:     cause,
	}
}

func (s *IndexStore) restoreFromMirror(ctx context.Context) {
	if s.mirror == nil || s.Exists() {
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("cannot create index dir", zap.String("dir", s.dir), zap.Error(err))
		return
	}
	for _, name := range []string{IndexFileName, MetadataFileName} {
		local := filepath.Join(s.dir, name)
		found, err := s.mirror.Download(ctx, name, local+".download")
		if err != nil {
			s.logger.Warn("index mirror download failed", zap.String("artifact", name), zap.Error(err))
			return
		}
		if !found {
			return
		}
		if err := os.Rename(local+".download", local); err != nil {
			s.logger.Warn("index mirror restore failed", zap.String("artifact", name), zap.Error(err))
			return
		}
	}
	s.logger.Info("index artifacts restored from mirror", zap.String("dir", s.dir))
}
