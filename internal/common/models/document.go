package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Document struct {
	ID           uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Path         string    `gorm:"type:varchar(500);not null;index" json:"path"`
	FileName     string    `gorm:"type:varchar(255);not null" json:"file_name"`
	FileType     string    `gorm:"type:varchar(50);not null" json:"file_type"`
	FileSize     int64     `gorm:"not null" json:"file_size"`
	Checksum     string    `gorm:"type:varchar(64);not null;index" json:"checksum"`
	Status       string    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ChunkCount   int       `gorm:"default:0" json:"chunk_count"`
	IndexedCount int       `gorm:"default:0" json:"indexed_count"`
	Error        string    `gorm:"type:text" json:"error"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *Document) TableName() string {
	return "documents"
}

// TextChunk 单个分块的持久化记录，raw 为切分原文，enriched 为扩写后上下文
type TextChunk struct {
	ID         uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	DocumentID uuid.UUID `gorm:"type:char(36);not null;index" json:"document_id"`
	Document   Document  `gorm:"foreignKey:DocumentID" json:"document"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	RawContent string    `gorm:"type:text;not null" json:"raw_content"`
	Enriched   string    `gorm:"type:text" json:"enriched"`
	Path       string    `gorm:"type:varchar(500);not null" json:"path"`
	TokenCount int       `gorm:"default:0" json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (tc *TextChunk) BeforeCreate(tx *gorm.DB) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	return nil
}

func (tc *TextChunk) TableName() string {
	return "text_chunks"
}

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusChunking   DocumentStatus = "chunking"
	DocumentStatusExpanding  DocumentStatus = "expanding"
	DocumentStatusIndexing   DocumentStatus = "indexing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) String() string {
	return string(s)
}

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusChunking, DocumentStatusExpanding,
		DocumentStatusIndexing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}
