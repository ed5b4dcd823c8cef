package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SourceStatusPending  = "pending"
	SourceStatusIndexing = "indexing"
	SourceStatusReady    = "ready"
	SourceStatusFailed   = "failed"
)

type Source struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`

	Name     string `gorm:"column:name;not null" json:"name"`
	FileType string `gorm:"column:file_type;not null;default:'';index" json:"file_type"`
	Status   string `gorm:"column:status;not null;default:'pending';index" json:"status"`

	// Raw extracted text; chunking and embedding read from here.
	Text string `gorm:"column:text;type:text;not null;default:''" json:"text,omitempty"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Source) TableName() string { return "source" }

type SourceChunk struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SourceID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_source_chunk_source_index,unique,priority:1" json:"source_id"`
	Source   *Source   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SourceID;references:ID" json:"source,omitempty"`

	Index int    `gorm:"column:index;not null;index:idx_source_chunk_source_index,unique,priority:2" json:"index"`
	Text  string `gorm:"column:text;type:text;not null" json:"text"`

	// Embedding is the portable jsonb copy; Postgres deployments also carry
	// an embedding_vec vector column maintained by the repo layer for ANN
	// search.
	Embedding datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`

	TokenCount int `gorm:"column:token_count;not null;default:0" json:"token_count"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SourceChunk) TableName() string { return "source_chunk" }
