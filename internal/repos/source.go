package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/logger"
)

type SourceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, source *domain.Source) (*domain.Source, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) ([]*domain.Source, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Source, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, status string) error
	UpdateText(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, text string) error
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) error
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{db: db, log: baseLog.With("repo", "SourceRepo")}
}

func (r *sourceRepo) Create(ctx context.Context, tx *gorm.DB, source *domain.Source) (*domain.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(source).Error; err != nil {
		return nil, err
	}
	return source, nil
}

func (r *sourceRepo) GetByIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) ([]*domain.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Source
	if len(sourceIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", sourceIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *sourceRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Source
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *sourceRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&domain.Source{}).
		Where("id = ?", sourceID).
		Update("status", status).Error
}

func (r *sourceRepo) UpdateText(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, text string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&domain.Source{}).
		Where("id = ?", sourceID).
		Update("text", text).Error
}

func (r *sourceRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sourceIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", sourceIDs).
		Delete(&domain.Source{}).Error
}
