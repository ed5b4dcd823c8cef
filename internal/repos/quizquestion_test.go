package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/repos/testutil"
)

func TestQuizQuestionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewQuizQuestionRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, tx, "quizquestionrepo@example.com")
	conv := testutil.SeedConversation(t, ctx, tx, u.ID)
	quiz := testutil.SeedQuiz(t, ctx, tx, u.ID, conv.ID, 2)

	q1 := &domain.QuizQuestion{
		ID:          uuid.New(),
		QuizID:      quiz.ID,
		Seq:         0,
		Type:        domain.QuestionTypeMultipleChoice,
		Question:    "What is stored in a source chunk?",
		Options:     datatypes.JSON([]byte(`["text","nothing","pixels","audio"]`)),
		CorrectIdx:  0,
		Explanation: "Chunks hold extracted text.",
		Concept:     "chunking",
		Difficulty:  "easy",
	}
	q2 := &domain.QuizQuestion{
		ID:         uuid.New(),
		QuizID:     quiz.ID,
		Seq:        1,
		Type:       domain.QuestionTypeTrueFalse,
		Question:   "Embeddings are recomputed on every query.",
		CorrectIdx: 1,
		Concept:    "embeddings",
		Difficulty: "medium",
	}

	if _, err := repo.Create(ctx, tx, []*domain.QuizQuestion{q1, q2}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows, err := repo.GetByQuizIDs(ctx, tx, []uuid.UUID{quiz.ID})
	if err != nil {
		t.Fatalf("GetByQuizIDs: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2", len(rows))
	}
	if rows[0].Seq != 0 || rows[1].Seq != 1 {
		t.Fatalf("seq order = [%d %d], want [0 1]", rows[0].Seq, rows[1].Seq)
	}

	if rows, err := repo.GetByIDs(ctx, tx, []uuid.UUID{q2.ID}); err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	if err := repo.SoftDeleteByQuizIDs(ctx, tx, []uuid.UUID{quiz.ID}); err != nil {
		t.Fatalf("SoftDeleteByQuizIDs: %v", err)
	}
	if rows, err := repo.GetByQuizIDs(ctx, tx, []uuid.UUID{quiz.ID}); err != nil || len(rows) != 0 {
		t.Fatalf("after delete: err=%v len=%d", err, len(rows))
	}
}
