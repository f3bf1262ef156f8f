package controllers

import (
	"github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/knowledge"
	"github.com/aihub/policy-assistant/internal/models"
	"github.com/aihub/policy-assistant/internal/services"
	"go.uber.org/zap"
)

// SearchController 只检索不生成，用于排查召回效果
type SearchController struct {
	BaseController
	KnowledgeBase *services.KnowledgeBaseService
	Engine        *knowledge.QueryEngine
}

// NewSearchController 创建检索控制器
func NewSearchController(kb *services.KnowledgeBaseService, engine *knowledge.QueryEngine, logger *zap.Logger) *SearchController {
	return &SearchController{
		BaseController: BaseController{Logger: logger},
		KnowledgeBase:  kb,
		Engine:         engine,
	}
}

type searchHit struct {
	Ordinal  int     `json:"ordinal"`
	Distance float32 `json:"distance"`
	Text     string  `json:"text"`
}

// Search GET /api/knowledge/search?query=...&top_k=5
func (c *SearchController) Search() {
	query := c.GetString("query")
	topK, err := c.GetInt("top_k", knowledge.DefaultTopK)
	if err != nil || topK <= 0 || topK > 50 {
		c.JSONAppError(errors.NewInvalidInputError("top_k", "must be between 1 and 50"))
		return
	}

	kb := c.KnowledgeBase.Current()
	if kb == nil {
		c.JSONAppError(errors.NotReady())
		return
	}

	result, err := c.Engine.Query(c.Ctx.Request.Context(), query, kb.Index, kb.Chunks, topK)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	hits := make([]searchHit, 0, len(result.Neighbors))
	for _, n := range result.Neighbors {
		hits = append(hits, searchHit{Ordinal: n.Ordinal, Distance: n.Distance, Text: kb.Chunks[n.Ordinal].Text})
	}
	c.JSONSuccess(map[string]interface{}{
		"query":            query,
		"confidence":       result.Confidence,
		"confidence_level": models.ConfidenceLevel(result.Confidence),
		"hits":             hits,
	})
}
