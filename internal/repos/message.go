package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, message *domain.Message) (*domain.Message, error)
	ListByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, limit int) ([]*domain.Message, error)
	CountByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) (int64, error)
	NextSeq(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) (int64, error)
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, messageIDs []uuid.UUID) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, message *domain.Message) (*domain.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}
	return message, nil
}

// ListByConversationID returns messages in ascending seq order. A limit of 0
// returns everything; a positive limit returns the most recent N, still in
// ascending order.
func (r *messageRepo) ListByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Message
	q := transaction.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if limit > 0 {
		if err := q.Order("seq DESC").Limit(limit).Find(&results).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
		return results, nil
	}
	if err := q.Order("seq ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *messageRepo) CountByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *messageRepo) NextSeq(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var maxSeq int64
	if err := transaction.WithContext(ctx).
		Model(&domain.Message{}).
		Unscoped().
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

func (r *messageRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, messageIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(messageIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", messageIDs).
		Delete(&domain.Message{}).Error
}
