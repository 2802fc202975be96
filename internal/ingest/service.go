package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/rabbitmq"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

// IngestJob 是投递到队列的摄取任务
type IngestJob struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
}

// Service 负责文档登记与任务投递，实际处理由 worker 消费队列完成
type Service struct {
	db *database.Database
	mq *rabbitmq.Client
}

func NewService(db *database.Database, mq *rabbitmq.Client) *Service {
	return &Service{db: db, mq: mq}
}

// RegisterDocument 登记来源文件并投递摄取任务。
// 内容 checksum 已存在且上次摄取成功时跳过，避免重复索引。
func (s *Service) RegisterDocument(ctx context.Context, path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.New(apperr.KindSource, "stat %s: %v", path, err)
	}
	ext := utils.GetFileExtension(path)
	if !utils.Contains(allowedSourceTypes, ext) {
		return nil, apperr.New(apperr.KindSource, "unsupported source type %q for %s", ext, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindSource, "read %s: %v", path, err)
	}
	checksum := utils.SHA256Hex(data)

	var existing models.Document
	err = s.db.WithContext(ctx).Where("checksum = ?", checksum).First(&existing).Error
	if err == nil {
		if existing.Status == models.DocumentStatusCompleted.String() {
			logger.Info(ctx, "Document unchanged, skipping", "path", path, "document_id", existing.ID.String())
			return &existing, nil
		}
		// 之前失败或中断过，重新投递
		if err := s.publish(ctx, &existing); err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindStore, "lookup checksum: %v", err)
	}

	doc := &models.Document{
		Path:     path,
		FileName: utils.SanitizeFilename(path),
		FileType: ext,
		FileSize: info.Size(),
		Checksum: checksum,
		Status:   models.DocumentStatusPending.String(),
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, apperr.New(apperr.KindStore, "create document: %v", err)
	}
	if err := s.publish(ctx, doc); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Document registered", "path", path, "document_id", doc.ID.String())
	return doc, nil
}

// RegisterDirectory 登记目录下的全部来源文件
func (s *Service) RegisterDirectory(ctx context.Context, root string) ([]*models.Document, error) {
	paths, err := ListSources(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, apperr.New(apperr.KindSource, "no txt/md sources under %s", root)
	}
	docs := make([]*models.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := s.RegisterDocument(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", p, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetDocument 查询文档摄取状态
func (s *Service) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.New(apperr.KindStore, "load document %s: %v", id, err)
	}
	return &doc, nil
}

// ListDocuments 按登记时间倒序分页列出文档
func (s *Service) ListDocuments(ctx context.Context, page, pageSize int) ([]*models.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return nil, 0, apperr.New(apperr.KindStore, "count documents: %v", err)
	}
	var docs []*models.Document
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&docs).Error
	if err != nil {
		return nil, 0, apperr.New(apperr.KindStore, "list documents: %v", err)
	}
	return docs, total, nil
}

func (s *Service) publish(ctx context.Context, doc *models.Document) error {
	body, err := sonic.Marshal(&IngestJob{DocumentID: doc.ID.String(), Path: doc.Path})
	if err != nil {
		return fmt.Errorf("marshal ingest job: %w", err)
	}
	if err := s.mq.Publish(ctx, body); err != nil {
		return apperr.New(apperr.KindStore, "publish ingest job: %v", err)
	}
	return nil
}
