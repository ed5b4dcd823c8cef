package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	QuestionTypeMultipleChoice = "multiple_choice"
	QuestionTypeTrueFalse      = "true_false"
)

type Quiz struct {
	ID             uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	User           *User         `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	ConversationID uuid.UUID     `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Conversation   *Conversation `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationID;references:ID" json:"conversation,omitempty"`

	Title        string `gorm:"column:title;not null;default:''" json:"title"`
	NumQuestions int    `gorm:"column:num_questions;not null" json:"num_questions"`

	// Concept labels extracted during generation, in extraction order.
	Concepts datatypes.JSON `gorm:"type:jsonb;column:concepts" json:"concepts,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Quiz) TableName() string { return "quiz" }

type QuizQuestion struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	QuizID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_quiz_question_seq,unique,priority:1" json:"quiz_id"`
	Quiz   *Quiz     `gorm:"constraint:OnDelete:CASCADE;foreignKey:QuizID;references:ID" json:"quiz,omitempty"`

	Seq int `gorm:"column:seq;not null;index:idx_quiz_question_seq,unique,priority:2" json:"seq"`

	Type     string `gorm:"column:type;not null;index" json:"type"`
	Question string `gorm:"column:question;type:text;not null" json:"question"`

	// Options is empty for true/false questions; multiple choice carries
	// exactly four.
	Options     datatypes.JSON `gorm:"type:jsonb;column:options" json:"options,omitempty"`
	CorrectIdx  int            `gorm:"column:correct_idx;not null" json:"correct_idx"`
	Explanation string         `gorm:"column:explanation;type:text;not null;default:''" json:"explanation"`
	Concept     string         `gorm:"column:concept;not null;default:'';index" json:"concept"`
	Difficulty  string         `gorm:"column:difficulty;not null;default:'medium'" json:"difficulty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizQuestion) TableName() string { return "quiz_question" }

type QuizAttempt struct {
	ID         uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User         `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	QuizID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"quiz_id"`
	Quiz       *Quiz         `gorm:"constraint:OnDelete:CASCADE;foreignKey:QuizID;references:ID" json:"quiz,omitempty"`
	QuestionID uuid.UUID     `gorm:"type:uuid;not null;index" json:"question_id"`
	Question   *QuizQuestion `gorm:"constraint:OnDelete:CASCADE;foreignKey:QuestionID;references:ID" json:"question,omitempty"`

	SelectedIdx int  `gorm:"column:selected_idx;not null" json:"selected_idx"`
	IsCorrect   bool `gorm:"column:is_correct;not null" json:"is_correct"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizAttempt) TableName() string { return "quiz_attempt" }
