// Package store provides durable storage backends for FlowRouter.
//
// This file implements a PostgreSQL-backed store for conversation state.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pgTruncationCode is the PostgreSQL error class for string_data_right_truncation.
const pgTruncationCode = "22001"

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveConversationState stores or replaces the state for a phone.
func (s *PostgresStore) SaveConversationState(state models.FlowState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_state (phone, active_flow_id, active_step, expected_input,
			last_question_id, last_question_text, step_timeout_hours, flow_context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (phone)
		DO UPDATE SET
			active_flow_id = EXCLUDED.active_flow_id,
			active_step = EXCLUDED.active_step,
			expected_input = EXCLUDED.expected_input,
			last_question_id = EXCLUDED.last_question_id,
			last_question_text = EXCLUDED.last_question_text,
			step_timeout_hours = EXCLUDED.step_timeout_hours,
			flow_context = EXCLUDED.flow_context,
			updated_at = EXCLUDED.updated_at`

	var contextJSON []byte
	var err error
	if len(state.FlowContext) > 0 {
		contextJSON, err = json.Marshal(state.FlowContext)
		if err != nil {
			slog.Error("PostgresStore SaveConversationState JSON marshal failed", "error", err, "phone", state.Phone)
			return err
		}
	}

	_, err = s.db.Exec(query, state.Phone, state.ActiveFlowID, state.ActiveStep, string(state.ExpectedInput),
		nilIfEmpty(state.LastQuestionID), nilIfEmpty(state.LastQuestionText), state.StepTimeoutHours,
		contextJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "phone", state.Phone, "flowID", state.ActiveFlowID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.Phone, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "phone", state.Phone, "flowID", state.ActiveFlowID, "step", state.ActiveStep)
	return nil
}

// GetConversationState retrieves the state for a phone, or nil if none.
func (s *PostgresStore) GetConversationState(phone string) (*models.FlowState, error) {
	query := `SELECT phone, active_flow_id, active_step, expected_input, last_question_id,
			last_question_text, step_timeout_hours, flow_context, created_at, updated_at
		  FROM conversation_state WHERE phone = $1`

	state, err := scanConversationState(s.db.QueryRow(query, phone))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "phone", phone)
		return nil, err
	}

	slog.Debug("PostgresStore GetConversationState found", "phone", phone, "flowID", state.ActiveFlowID)
	return state, nil
}

// DeleteConversationState removes the state for a phone.
func (s *PostgresStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_state WHERE phone = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation state for %s: %w", phone, err)
	}
	slog.Debug("PostgresStore DeleteConversationState succeeded", "phone", phone)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

// IsTruncationError reports whether err indicates a value was rejected for
// exceeding a column limit. This is the condition the state store recovers
// from by substituting a safe default for the offending field.
func IsTruncationError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgTruncationCode
	}
	return isTruncationMessage(err.Error())
}
