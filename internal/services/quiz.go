package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/engine"
	"github.com/sourcequill/backend/internal/observability"
	"github.com/sourcequill/backend/internal/platform/apierr"
	pkgerrors "github.com/sourcequill/backend/internal/pkg/errors"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/realtime"
	"github.com/sourcequill/backend/internal/realtime/bus"
	"github.com/sourcequill/backend/internal/repos"
	"github.com/sourcequill/backend/internal/workflows/quiz"
)

const (
	MinQuizQuestions = 1
	MaxQuizQuestions = 30
)

// QuizWithQuestions is the API shape for a quiz and its ordered questions.
type QuizWithQuestions struct {
	Quiz      *domain.Quiz           `json:"quiz"`
	Questions []*domain.QuizQuestion `json:"questions"`
}

type AttemptResult struct {
	Total    int                   `json:"total"`
	Correct  int                   `json:"correct"`
	Attempts []*domain.QuizAttempt `json:"attempts"`
}

type QuizService interface {
	Generate(ctx context.Context, userID, conversationID uuid.UUID, title string, numQuestions int) (*QuizWithQuestions, error)
	Get(ctx context.Context, userID, quizID uuid.UUID) (*QuizWithQuestions, error)
	ListByConversation(ctx context.Context, userID, conversationID uuid.UUID) ([]*domain.Quiz, error)
	SubmitAttempt(ctx context.Context, userID, quizID uuid.UUID, answers map[uuid.UUID]int) (*AttemptResult, error)
	Delete(ctx context.Context, userID, quizID uuid.UUID) error
}

type quizService struct {
	db            *gorm.DB
	log           *logger.Logger
	conversations repos.ConversationRepo
	sources       repos.SourceRepo
	quizzes       repos.QuizRepo
	questions     repos.QuizQuestionRepo
	attempts      repos.QuizAttemptRepo
	deps          quiz.Deps
	eventBus      bus.Bus
}

func NewQuizService(
	db *gorm.DB,
	log *logger.Logger,
	conversations repos.ConversationRepo,
	sources repos.SourceRepo,
	quizzes repos.QuizRepo,
	questions repos.QuizQuestionRepo,
	attempts repos.QuizAttemptRepo,
	deps quiz.Deps,
	eventBus bus.Bus,
) QuizService {
	return &quizService{
		db:            db,
		log:           log.With("service", "QuizService"),
		conversations: conversations,
		sources:       sources,
		quizzes:       quizzes,
		questions:     questions,
		attempts:      attempts,
		deps:          deps,
		eventBus:      eventBus,
	}
}

// Generate runs the quiz workflow over the conversation's ready sources and
// persists the result. A conversation with no indexed sources is a hard
// failure: quiz questions must be grounded in uploaded material.
func (qs *quizService) Generate(ctx context.Context, userID, conversationID uuid.UUID, title string, numQuestions int) (*QuizWithQuestions, error) {
	if numQuestions < MinQuizQuestions || numQuestions > MaxQuizQuestions {
		return nil, apierr.New(http.StatusBadRequest, "invalid_num_questions",
			fmt.Errorf("%w: num_questions must be between %d and %d", pkgerrors.ErrInvalidArgument, MinQuizQuestions, MaxQuizQuestions))
	}

	conv, err := qs.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	sourceIDs, sourceText, err := qs.readySourceText(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(sourceIDs) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "no_sources",
			fmt.Errorf("%w: attach at least one indexed source before generating a quiz", pkgerrors.ErrInvalidArgument))
	}

	graph, err := quiz.BuildGraph(qs.deps)
	if err != nil {
		return nil, fmt.Errorf("build quiz graph: %w", err)
	}

	initial := quiz.State{
		SourceIDs:    sourceIDs,
		SourceText:   sourceText,
		NumQuestions: numQuestions,
	}

	started := time.Now()
	nodeStart := started
	final, err := graph.RunObserved(ctx, initial, func(tr engine.Transition[quiz.State]) {
		now := time.Now()
		observability.Current().ObserveWorkflowNode("quiz", tr.Node, now.Sub(nodeStart))
		nodeStart = now
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Current().ObserveWorkflowRun("quiz", outcome, time.Since(started))
	if err != nil {
		qs.publishFailure(ctx, conv, "quiz generation failed")
		return nil, fmt.Errorf("quiz workflow: %w", err)
	}
	for i := 0; i < final.RetryCount; i++ {
		observability.Current().IncWorkflowRetry("quiz", "validation_deficit")
	}

	accepted, err := quiz.Final(final)
	if err != nil {
		qs.publishFailure(ctx, conv, err.Error())
		return nil, apierr.New(http.StatusUnprocessableEntity, "insufficient_questions", err)
	}

	stored, err := qs.persist(ctx, userID, conversationID, title, numQuestions, final.Concepts, accepted)
	if err != nil {
		return nil, err
	}

	qs.publish(ctx, realtime.SSEMessage{
		Channel: realtime.ConversationChannel(conversationID),
		Event:   realtime.SSEEventQuizReady,
		Data:    map[string]any{"quiz_id": stored.Quiz.ID, "conversation_id": conversationID},
	})
	return stored, nil
}

func (qs *quizService) Get(ctx context.Context, userID, quizID uuid.UUID) (*QuizWithQuestions, error) {
	q, err := qs.ownedQuiz(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := qs.questions.GetByQuizIDs(ctx, nil, []uuid.UUID{quizID})
	if err != nil {
		return nil, err
	}
	return &QuizWithQuestions{Quiz: q, Questions: questions}, nil
}

func (qs *quizService) ListByConversation(ctx context.Context, userID, conversationID uuid.UUID) ([]*domain.Quiz, error) {
	if _, err := qs.ownedConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return qs.quizzes.ListByConversationID(ctx, nil, conversationID)
}

// SubmitAttempt grades the provided answers against the stored questions and
// records one attempt row per answered question.
func (qs *quizService) SubmitAttempt(ctx context.Context, userID, quizID uuid.UUID, answers map[uuid.UUID]int) (*AttemptResult, error) {
	if _, err := qs.ownedQuiz(ctx, userID, quizID); err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: no answers submitted", pkgerrors.ErrInvalidArgument)
	}

	questions, err := qs.questions.GetByQuizIDs(ctx, nil, []uuid.UUID{quizID})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.QuizQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var rows []*domain.QuizAttempt
	correct := 0
	for questionID, selected := range answers {
		q, ok := byID[questionID]
		if !ok {
			return nil, fmt.Errorf("%w: question %s is not part of this quiz", pkgerrors.ErrInvalidArgument, questionID)
		}
		isCorrect := selected == q.CorrectIdx
		if isCorrect {
			correct++
		}
		rows = append(rows, &domain.QuizAttempt{
			UserID:      userID,
			QuizID:      quizID,
			QuestionID:  questionID,
			SelectedIdx: selected,
			IsCorrect:   isCorrect,
		})
	}

	created, err := qs.attempts.Create(ctx, nil, rows)
	if err != nil {
		return nil, fmt.Errorf("store attempts: %w", err)
	}
	return &AttemptResult{Total: len(created), Correct: correct, Attempts: created}, nil
}

func (qs *quizService) Delete(ctx context.Context, userID, quizID uuid.UUID) error {
	if _, err := qs.ownedQuiz(ctx, userID, quizID); err != nil {
		return err
	}
	return qs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := qs.questions.SoftDeleteByQuizIDs(ctx, tx, []uuid.UUID{quizID}); err != nil {
			return err
		}
		return qs.quizzes.SoftDeleteByIDs(ctx, tx, []uuid.UUID{quizID})
	})
}

func (qs *quizService) ownedConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	convs, err := qs.conversations.GetByIDs(ctx, nil, []uuid.UUID{conversationID})
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

func (qs *quizService) ownedQuiz(ctx context.Context, userID, quizID uuid.UUID) (*domain.Quiz, error) {
	quizzes, err := qs.quizzes.GetByIDs(ctx, nil, []uuid.UUID{quizID})
	if err != nil {
		return nil, err
	}
	if len(quizzes) == 0 {
		return nil, fmt.Errorf("%w: quiz", pkgerrors.ErrNotFound)
	}
	if quizzes[0].UserID != userID {
		return nil, pkgerrors.ErrUnauthorized
	}
	return quizzes[0], nil
}

func (qs *quizService) readySourceText(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, string, error) {
	ids, err := qs.conversations.ListSourceIDs(ctx, nil, conversationID)
	if err != nil {
		return nil, "", fmt.Errorf("list conversation sources: %w", err)
	}
	if len(ids) == 0 {
		return nil, "", nil
	}
	srcs, err := qs.sources.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, "", fmt.Errorf("load sources: %w", err)
	}

	var readyIDs []uuid.UUID
	var parts []string
	for _, src := range srcs {
		if src.Status != domain.SourceStatusReady {
			continue
		}
		readyIDs = append(readyIDs, src.ID)
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", src.Name, src.Text))
	}
	return readyIDs, strings.Join(parts, "\n\n"), nil
}

func (qs *quizService) persist(ctx context.Context, userID, conversationID uuid.UUID, title string, numQuestions int, concepts []string, accepted []quiz.Question) (*QuizWithQuestions, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Quiz (%d questions)", numQuestions)
	}

	var out *QuizWithQuestions
	err := qs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conceptsJSON, err := json.Marshal(concepts)
		if err != nil {
			return err
		}
		stored, err := qs.quizzes.Create(ctx, tx, &domain.Quiz{
			UserID:         userID,
			ConversationID: conversationID,
			Title:          title,
			NumQuestions:   numQuestions,
			Concepts:       datatypes.JSON(conceptsJSON),
		})
		if err != nil {
			return fmt.Errorf("create quiz: %w", err)
		}

		rows := make([]*domain.QuizQuestion, 0, len(accepted))
		for i, q := range accepted {
			optionsJSON, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			rows = append(rows, &domain.QuizQuestion{
				QuizID:      stored.ID,
				Seq:         i + 1,
				Type:        q.Type,
				Question:    q.Question,
				Options:     datatypes.JSON(optionsJSON),
				CorrectIdx:  q.CorrectIdx,
				Explanation: q.Explanation,
				Concept:     q.Concept,
				Difficulty:  q.Difficulty,
			})
		}
		created, err := qs.questions.Create(ctx, tx, rows)
		if err != nil {
			return fmt.Errorf("create quiz questions: %w", err)
		}
		out = &QuizWithQuestions{Quiz: stored, Questions: created}
		return nil
	})
	return out, err
}

func (qs *quizService) publish(ctx context.Context, msg realtime.SSEMessage) {
	if qs.eventBus == nil {
		return
	}
	if err := qs.eventBus.Publish(ctx, msg); err != nil {
		qs.log.Warn("failed to publish realtime event", "channel", msg.Channel, "error", err)
	}
}

func (qs *quizService) publishFailure(ctx context.Context, conv *domain.Conversation, reason string) {
	qs.publish(ctx, realtime.SSEMessage{
		Channel: realtime.ConversationChannel(conv.ID),
		Event:   realtime.SSEEventQuizFailed,
		Data:    map[string]any{"conversation_id": conv.ID, "reason": reason},
	})
}
