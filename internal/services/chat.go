package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/engine"
	"github.com/sourcequill/backend/internal/observability"
	pkgerrors "github.com/sourcequill/backend/internal/pkg/errors"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/realtime"
	"github.com/sourcequill/backend/internal/realtime/bus"
	"github.com/sourcequill/backend/internal/repos"
	"github.com/sourcequill/backend/internal/workflows/answer"
)

// StreamEvent is one unit of the send-message stream: node transitions as
// "stage", generated text as "token", and the persisted message as "complete".
type StreamEvent struct {
	Type     string          `json:"type"`
	Stage    string          `json:"stage,omitempty"`
	Token    string          `json:"token,omitempty"`
	Message  *domain.Message `json:"message,omitempty"`
	ErrorMsg string          `json:"error,omitempty"`
}

type ChatService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error
	AttachSource(ctx context.Context, userID, conversationID, sourceID uuid.UUID) error
	ListMessages(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]*domain.Message, error)
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content string, onEvent func(StreamEvent)) (*domain.Message, error)
}

type chatService struct {
	db            *gorm.DB
	log           *logger.Logger
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	sources       repos.SourceRepo
	answerDeps    answer.Deps
	eventBus      bus.Bus
	model         string
	historyLimit  int
}

func NewChatService(
	db *gorm.DB,
	log *logger.Logger,
	conversations repos.ConversationRepo,
	messages repos.MessageRepo,
	sources repos.SourceRepo,
	answerDeps answer.Deps,
	eventBus bus.Bus,
	model string,
) ChatService {
	return &chatService{
		db:            db,
		log:           log.With("service", "ChatService"),
		conversations: conversations,
		messages:      messages,
		sources:       sources,
		answerDeps:    answerDeps,
		eventBus:      eventBus,
		model:         model,
		historyLimit:  40,
	}
}

func (cs *chatService) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*domain.Conversation, error) {
	conv := &domain.Conversation{UserID: userID, Title: strings.TrimSpace(title)}
	return cs.conversations.Create(ctx, nil, conv)
}

func (cs *chatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	return cs.conversations.ListByUserID(ctx, nil, userID)
}

func (cs *chatService) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	return cs.ownedConversation(ctx, userID, conversationID)
}

func (cs *chatService) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := cs.ownedConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return cs.conversations.SoftDeleteByIDs(ctx, nil, []uuid.UUID{conversationID})
}

func (cs *chatService) AttachSource(ctx context.Context, userID, conversationID, sourceID uuid.UUID) error {
	if _, err := cs.ownedConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	srcs, err := cs.sources.GetByIDs(ctx, nil, []uuid.UUID{sourceID})
	if err != nil || len(srcs) == 0 {
		return fmt.Errorf("%w: source", pkgerrors.ErrNotFound)
	}
	if srcs[0].UserID != userID {
		return pkgerrors.ErrUnauthorized
	}
	if err := cs.conversations.AttachSource(ctx, nil, conversationID, sourceID); err != nil {
		return err
	}
	cs.publish(ctx, realtime.SSEMessage{
		Channel: realtime.ConversationChannel(conversationID),
		Event:   realtime.SSEEventConversationUpdated,
		Data:    map[string]any{"conversation_id": conversationID, "attached_source_id": sourceID},
	})
	return nil
}

func (cs *chatService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	if _, err := cs.ownedConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return cs.messages.ListByConversationID(ctx, nil, conversationID, limit)
}

// SendMessage persists the user turn, runs the answer workflow with streaming
// callbacks, and persists the assistant turn. The returned message is the
// stored assistant reply.
func (cs *chatService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content string, onEvent func(StreamEvent)) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", pkgerrors.ErrInvalidArgument)
	}
	conv, err := cs.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	history, err := cs.loadHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	sourceIDs, err := cs.conversations.ListSourceIDs(ctx, nil, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	firstMessage := len(history) == 0

	if _, err := cs.appendMessage(ctx, conversationID, "user", content, nil, ""); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	initial := answer.State{
		ConversationID: conversationID,
		SourceIDs:      sourceIDs,
		History:        history,
		CurrentQuery:   content,
		Meta: answer.RunMeta{
			FirstMessage: firstMessage,
			Model:        cs.model,
		},
	}
	if onEvent != nil {
		initial.Meta.OnToken = func(token string) {
			onEvent(StreamEvent{Type: "token", Token: token})
		}
	}

	graph, err := answer.BuildGraph(cs.answerDeps)
	if err != nil {
		return nil, fmt.Errorf("build answer graph: %w", err)
	}

	started := time.Now()
	nodeStart := started
	final, err := graph.RunObserved(ctx, initial, func(tr engine.Transition[answer.State]) {
		now := time.Now()
		observability.Current().ObserveWorkflowNode("answer", tr.Node, now.Sub(nodeStart))
		nodeStart = now
		if onEvent != nil {
			onEvent(StreamEvent{Type: "stage", Stage: tr.Node})
		}
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Current().ObserveWorkflowRun("answer", outcome, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("answer workflow: %w", err)
	}

	for i := 0; i < final.RetryCount; i++ {
		observability.Current().IncWorkflowRetry("answer", "poor_quality")
	}

	reply := final.LastAssistant()
	if reply == nil {
		return nil, fmt.Errorf("answer workflow produced no assistant message")
	}

	stored, err := cs.appendMessage(ctx, conversationID, "assistant", reply.Content, reply.Citations, cs.model)
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	if firstMessage && conv.Title == "" {
		cs.setTitle(ctx, conv, content)
	}

	if onEvent != nil {
		onEvent(StreamEvent{Type: "complete", Message: stored})
	}
	cs.publish(ctx, realtime.SSEMessage{
		Channel: realtime.ConversationChannel(conversationID),
		Event:   realtime.SSEEventConversationUpdated,
		Data:    map[string]any{"conversation_id": conversationID, "message_id": stored.ID},
	})
	return stored, nil
}

func (cs *chatService) ownedConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	convs, err := cs.conversations.GetByIDs(ctx, nil, []uuid.UUID{conversationID})
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("%w: conversation", pkgerrors.ErrNotFound)
	}
	if convs[0].UserID != userID {
		return nil, pkgerrors.ErrUnauthorized
	}
	return convs[0], nil
}

func (cs *chatService) loadHistory(ctx context.Context, conversationID uuid.UUID) ([]answer.Message, error) {
	rows, err := cs.messages.ListByConversationID(ctx, nil, conversationID, cs.historyLimit)
	if err != nil {
		return nil, err
	}
	history := make([]answer.Message, 0, len(rows))
	for _, m := range rows {
		msg := answer.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if len(m.Citations) > 0 {
			_ = json.Unmarshal(m.Citations, &msg.Citations)
		}
		history = append(history, msg)
	}
	return history, nil
}

func (cs *chatService) appendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, citations []answer.Citation, model string) (*domain.Message, error) {
	var stored *domain.Message
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := cs.messages.NextSeq(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		msg := &domain.Message{
			ConversationID: conversationID,
			Seq:            seq,
			Role:           role,
			Content:        content,
			Model:          model,
		}
		if len(citations) > 0 {
			raw, err := json.Marshal(citations)
			if err != nil {
				return err
			}
			msg.Citations = datatypes.JSON(raw)
		}
		stored, err = cs.messages.Create(ctx, tx, msg)
		return err
	})
	return stored, err
}

const maxTitleChars = 60

func (cs *chatService) setTitle(ctx context.Context, conv *domain.Conversation, firstQuery string) {
	title := []rune(strings.TrimSpace(firstQuery))
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}
	if err := cs.conversations.UpdateTitle(ctx, nil, conv.ID, string(title)); err != nil {
		cs.log.Warn("failed to set conversation title", "conversationID", conv.ID, "error", err)
	}
}

func (cs *chatService) publish(ctx context.Context, msg realtime.SSEMessage) {
	if cs.eventBus == nil {
		return
	}
	if err := cs.eventBus.Publish(ctx, msg); err != nil {
		cs.log.Warn("failed to publish realtime event", "channel", msg.Channel, "error", err)
	}
}
