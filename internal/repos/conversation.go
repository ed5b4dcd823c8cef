package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/logger"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conversation *domain.Conversation) (*domain.Conversation, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, conversationIDs []uuid.UUID) ([]*domain.Conversation, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Conversation, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, title string) error
	AttachSource(ctx context.Context, tx *gorm.DB, conversationID, sourceID uuid.UUID) error
	ListSourceIDs(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]uuid.UUID, error)
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, conversationIDs []uuid.UUID) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conversation *domain.Conversation) (*domain.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(conversation).Error; err != nil {
		return nil, err
	}
	return conversation, nil
}

func (r *conversationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, conversationIDs []uuid.UUID) ([]*domain.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Conversation
	if len(conversationIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", conversationIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *conversationRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Conversation
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *conversationRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, title string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("title", title).Error
}

func (r *conversationRepo) AttachSource(ctx context.Context, tx *gorm.DB, conversationID, sourceID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var maxSeq int
	if err := transaction.WithContext(ctx).
		Model(&domain.ConversationSource{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(seq), -1)").
		Scan(&maxSeq).Error; err != nil {
		return err
	}

	link := &domain.ConversationSource{
		ConversationID: conversationID,
		SourceID:       sourceID,
		Seq:            maxSeq + 1,
	}
	return transaction.WithContext(ctx).Create(link).Error
}

func (r *conversationRepo) ListSourceIDs(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var links []*domain.ConversationSource
	if err := transaction.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.SourceID)
	}
	return ids, nil
}

func (r *conversationRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, conversationIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(conversationIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", conversationIDs).
		Delete(&domain.Conversation{}).Error
}
