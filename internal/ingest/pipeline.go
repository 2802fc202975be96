package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/internal/vector"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/metrics"
)

// Pipeline 把一篇文档走完 分块 → 扩写 → 嵌入入库 的全流程
type Pipeline struct {
	db       *database.Database
	chunker  *Chunker
	expander *Expander
	store    *vector.MilvusStore
	biz      *metrics.BusinessMetrics
}

func NewPipeline(db *database.Database, chunker *Chunker, expander *Expander, store *vector.MilvusStore, biz *metrics.BusinessMetrics) *Pipeline {
	return &Pipeline{db: db, chunker: chunker, expander: expander, store: store, biz: biz}
}

// ProcessDocument 处理一篇已登记的文档。任一阶段失败都会把文档标记为
// failed 并携带阶段错误，不留半成品索引。
func (p *Pipeline) ProcessDocument(ctx context.Context, docID string) error {
	start := time.Now()
	err := p.process(ctx, docID)
	status := "success"
	if err != nil {
		status = "fail"
	}
	if p.biz != nil {
		p.biz.IngestTotal.WithLabelValues("worker", status).Inc()
		p.biz.IngestDuration.WithLabelValues("worker", status).Observe(time.Since(start).Seconds())
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, docID string) error {
	var doc models.Document
	if err := p.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		return apperr.New(apperr.KindStore, "load document %s: %v", docID, err)
	}

	if err := p.run(ctx, &doc); err != nil {
		logger.Error(ctx, "Document ingestion failed", "path", doc.Path, "error", err.Error())
		p.setFailed(ctx, &doc, err)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, doc *models.Document) error {
	if err := p.setStatus(ctx, doc, models.DocumentStatusChunking); err != nil {
		return err
	}
	text, err := LoadSource(doc.Path)
	if err != nil {
		return err
	}

	raw := p.chunker.Split(text)
	if len(raw) == 0 {
		return apperr.New(apperr.KindSource, "%s produced no chunks", doc.Path)
	}
	logger.Info(ctx, "Document chunked", "path", doc.Path, "chunks", len(raw))

	if err := p.setStatus(ctx, doc, models.DocumentStatusExpanding); err != nil {
		return err
	}
	enriched, err := p.expander.ExpandAll(ctx, doc.Path, raw)
	if err != nil {
		return err
	}

	if err := p.setStatus(ctx, doc, models.DocumentStatusIndexing); err != nil {
		return err
	}

	chunks := make([]*models.TextChunk, len(raw))
	for i := range raw {
		chunks[i] = &models.TextChunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			RawContent: raw[i],
			Enriched:   enriched[i],
			Path:       doc.Path,
			TokenCount: p.chunker.CountTokens(raw[i]),
		}
	}

	// 重跑时先清掉旧分块，保证 chunk_index 连续
	var staleIDs []string
	if err := p.db.WithContext(ctx).Model(&models.TextChunk{}).
		Where("document_id = ?", doc.ID).Pluck("id", &staleIDs).Error; err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	err = p.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.TextChunk{}).Error; err != nil {
			return err
		}
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}

	// 旧版本的向量同步删除，否则检索会命中已失效的分块
	if err := p.store.DeleteByIDs(ctx, staleIDs); err != nil {
		return err
	}
	if err := p.store.IndexChunks(ctx, chunks); err != nil {
		return err
	}
	if p.biz != nil {
		p.biz.ChunksIndexedTotal.WithLabelValues("worker", "success").Add(float64(len(chunks)))
	}

	doc.ChunkCount = len(chunks)
	doc.IndexedCount = len(chunks)
	doc.Error = ""
	doc.Status = models.DocumentStatusCompleted.String()
	if err := p.db.WithContext(ctx).Save(doc).Error; err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	logger.Info(ctx, "Document ingested", "path", doc.Path, "chunks", len(chunks))
	return nil
}

func (p *Pipeline) setStatus(ctx context.Context, doc *models.Document, st models.DocumentStatus) error {
	doc.Status = st.String()
	if err := p.db.WithContext(ctx).Model(doc).Update("status", st.String()).Error; err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	return nil
}

func (p *Pipeline) setFailed(ctx context.Context, doc *models.Document, cause error) {
	doc.Status = models.DocumentStatusFailed.String()
	doc.Error = cause.Error()
	if err := p.db.WithContext(ctx).Model(doc).Updates(map[string]interface{}{
		"status": doc.Status,
		"error":  doc.Error,
	}).Error; err != nil {
		logger.Error(ctx, "Failed to record failure status", "path", doc.Path, "error", err.Error())
	}
}
