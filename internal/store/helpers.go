package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanConversationState scans a FlowState from a single sql.Row.
func scanConversationState(row *sql.Row) (*models.FlowState, error) {
	var state models.FlowState
	var expectedInput string
	var lastQuestionID, lastQuestionText sql.NullString
	var contextJSON []byte

	err := row.Scan(&state.Phone, &state.ActiveFlowID, &state.ActiveStep, &expectedInput,
		&lastQuestionID, &lastQuestionText, &state.StepTimeoutHours, &contextJSON,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}

	state.ExpectedInput = models.ExpectedInput(expectedInput)
	state.LastQuestionID = lastQuestionID.String
	state.LastQuestionText = lastQuestionText.String

	if len(contextJSON) > 0 {
		state.FlowContext = make(map[string]string)
		if err := json.Unmarshal(contextJSON, &state.FlowContext); err != nil {
			slog.Error("conversation state flow_context unmarshal failed", "error", err, "phone", state.Phone)
			// Continue with empty context rather than failing.
			state.FlowContext = make(map[string]string)
		}
	}
	return &state, nil
}

// isTruncationMessage matches driver error text for length violations where
// no structured error code is available (SQLite, exotic drivers).
func isTruncationMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "value too long") ||
		strings.Contains(msg, "string or blob too big") ||
		strings.Contains(msg, "data truncated") ||
		strings.Contains(msg, "string_data_right_truncation")
}
