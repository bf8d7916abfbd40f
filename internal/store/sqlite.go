// Package store provides durable storage backends for FlowRouter.
//
// This file implements an SQLite-backed store for conversation state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/FlowRouter/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation state in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveConversationState stores or replaces the state for a phone.
func (s *SQLiteStore) SaveConversationState(state models.FlowState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_state (phone, active_flow_id, active_step, expected_input,
			last_question_id, last_question_text, step_timeout_hours, flow_context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone)
		DO UPDATE SET
			active_flow_id = excluded.active_flow_id,
			active_step = excluded.active_step,
			expected_input = excluded.expected_input,
			last_question_id = excluded.last_question_id,
			last_question_text = excluded.last_question_text,
			step_timeout_hours = excluded.step_timeout_hours,
			flow_context = excluded.flow_context,
			updated_at = excluded.updated_at`

	var contextJSON []byte
	var err error
	if len(state.FlowContext) > 0 {
		contextJSON, err = json.Marshal(state.FlowContext)
		if err != nil {
			slog.Error("SQLiteStore SaveConversationState JSON marshal failed", "error", err, "phone", state.Phone)
			return err
		}
	}

	_, err = s.db.Exec(query, state.Phone, state.ActiveFlowID, state.ActiveStep, string(state.ExpectedInput),
		nilIfEmpty(state.LastQuestionID), nilIfEmpty(state.LastQuestionText), state.StepTimeoutHours,
		contextJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "phone", state.Phone, "flowID", state.ActiveFlowID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.Phone, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "phone", state.Phone, "flowID", state.ActiveFlowID, "step", state.ActiveStep)
	return nil
}

// GetConversationState retrieves the state for a phone, or nil if none.
func (s *SQLiteStore) GetConversationState(phone string) (*models.FlowState, error) {
	query := `SELECT phone, active_flow_id, active_step, expected_input, last_question_id,
			last_question_text, step_timeout_hours, flow_context, created_at, updated_at
		  FROM conversation_state WHERE phone = ?`

	state, err := scanConversationState(s.db.QueryRow(query, phone))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "phone", phone)
		return nil, err
	}

	slog.Debug("SQLiteStore GetConversationState found", "phone", phone, "flowID", state.ActiveFlowID)
	return state, nil
}

// DeleteConversationState removes the state for a phone.
func (s *SQLiteStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_state WHERE phone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation state for %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "phone", phone)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
