package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/repos/testutil"
)

func TestMessageRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewMessageRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, tx, "messagerepo@example.com")
	conv := testutil.SeedConversation(t, ctx, tx, u.ID)

	seq, err := repo.NextSeq(ctx, tx, conv.ID)
	if err != nil {
		t.Fatalf("NextSeq: %v", err)
	}
	if seq != 1 {
		t.Fatalf("NextSeq on empty conversation = %d, want 1", seq)
	}

	for i, role := range []string{"user", "assistant", "user"} {
		m := &domain.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Seq:            int64(i + 1),
			Role:           role,
			Content:        "message",
		}
		if _, err := repo.Create(ctx, tx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := repo.ListByConversationID(ctx, tx, conv.ID, 0)
	if err != nil {
		t.Fatalf("ListByConversationID: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := range all {
		if all[i].Seq != int64(i+1) {
			t.Fatalf("seq order broken at %d: %d", i, all[i].Seq)
		}
	}

	// Limited list still arrives in ascending order.
	last2, err := repo.ListByConversationID(ctx, tx, conv.ID, 2)
	if err != nil {
		t.Fatalf("ListByConversationID limited: %v", err)
	}
	if len(last2) != 2 || last2[0].Seq != 2 || last2[1].Seq != 3 {
		t.Fatalf("limited list = %+v, want seqs [2 3]", last2)
	}

	count, err := repo.CountByConversationID(ctx, tx, conv.ID)
	if err != nil || count != 3 {
		t.Fatalf("Count: err=%v count=%d", err, count)
	}

	if err := repo.SoftDeleteByIDs(ctx, tx, []uuid.UUID{all[1].ID}); err != nil {
		t.Fatalf("SoftDeleteByIDs: %v", err)
	}
	count, err = repo.CountByConversationID(ctx, tx, conv.ID)
	if err != nil || count != 2 {
		t.Fatalf("Count after delete: err=%v count=%d", err, count)
	}

	// Seq keeps climbing past soft-deleted rows.
	seq, err = repo.NextSeq(ctx, tx, conv.ID)
	if err != nil || seq != 4 {
		t.Fatalf("NextSeq after delete: err=%v seq=%d, want 4", err, seq)
	}
}
