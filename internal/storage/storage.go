// Package storage persists the chat audit trail and escalation tickets, and reports disk usage of artifacts.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/civicmatch/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// HistoryStore defines chat history and ticket persistence operations.
type HistoryStore interface {
	// Chat operations
	RecordChat(ctx context.Context, chat *models.ChatRecord) error
	ListChats(ctx context.Context, userID int64, limit int) ([]*models.ChatRecord, error)
	CountChats(ctx context.Context) (int64, error)

	// Ticket operations
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, userID int64) ([]*models.Ticket, error)

	Close() error
}
