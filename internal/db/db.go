package db

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/envutil"
	"github.com/sourcequill/backend/internal/platform/logger"
)

// Service owns the gorm handle. Driver selection is env-driven: postgres in
// deployment, sqlite for local development (DB_DRIVER=sqlite).
type Service struct {
	db       *gorm.DB
	log      *logger.Logger
	postgres bool
}

func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(envutil.String("DB_DRIVER", "postgres"))

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	switch driver {
	case "sqlite":
		path := envutil.String("SQLITE_PATH", "sourcequill.db")
		gdb, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
		}
		serviceLog.Info("Connected to sqlite", "path", path)
		return &Service{db: gdb, log: serviceLog, postgres: false}, nil

	case "postgres":
		dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
		if dsn == "" {
			dsn = fmt.Sprintf(
				"postgres://%s:%s@%s:%s/%s?sslmode=disable",
				envutil.String("POSTGRES_USER", "postgres"),
				envutil.String("POSTGRES_PASSWORD", ""),
				envutil.String("POSTGRES_HOST", "localhost"),
				envutil.String("POSTGRES_PORT", "5432"),
				envutil.String("POSTGRES_NAME", "sourcequill"),
			)
		}
		gdb, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
		}
		serviceLog.Info("Connected to Postgres")
		return &Service{db: gdb, log: serviceLog, postgres: true}, nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}

func (s *Service) DB() *gorm.DB { return s.db }

// IsPostgres reports whether vector search and FTS paths are available.
func (s *Service) IsPostgres() bool { return s.postgres }

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&domain.User{},
		&domain.UserToken{},
		&domain.Conversation{},
		&domain.ConversationSource{},
		&domain.Message{},
		&domain.Source{},
		&domain.SourceChunk{},
		&domain.Quiz{},
		&domain.QuizQuestion{},
		&domain.QuizAttempt{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if s.postgres {
		return s.migrateVector()
	}
	return nil
}

// migrateVector sets up the pgvector column and indexes used by the primary
// retrieval tier. Failure is non-fatal: retrieval falls back to the jsonb
// embedding copy.
func (s *Service) migrateVector() error {
	if err := s.db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		s.log.Warn("pgvector extension unavailable; vector search disabled", "error", err)
		return nil
	}
	dim := envutil.Int("EMBEDDING_DIM", 1536)
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE "source_chunk" ADD COLUMN IF NOT EXISTS embedding_vec vector(%d);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_source_chunk_embedding_vec
		 ON "source_chunk" USING hnsw (embedding_vec vector_cosine_ops);`,
		`CREATE INDEX IF NOT EXISTS idx_source_chunk_text_fts
		 ON "source_chunk" USING gin (to_tsvector('english', "text"));`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			s.log.Warn("vector/FTS migration statement failed", "error", err)
		}
	}
	return nil
}
