// Package messaging abstracts message delivery channels and drives the
// routing dispatcher that connects inbound messages to the cascade.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a pluggable delivery channel. Implementations send messages and
// surface inbound responses and delivery receipts as channels.
type Service interface {
	// ValidateAndCanonicalizeRecipient normalizes a recipient identifier,
	// returning an error when it cannot be a deliverable phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing, such as event polling.
	Start(ctx context.Context) error

	// Stop stops background processing and releases resources.
	Stop() error

	// Receipts streams delivery status events.
	Receipts() <-chan models.Receipt

	// Responses streams inbound customer messages.
	Responses() <-chan models.Response
}
