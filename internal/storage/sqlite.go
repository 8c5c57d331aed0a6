package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/civicmatch/internal/models"
)

// DefaultHistoryLimit caps history listings when no limit is given.
const DefaultHistoryLimit = 50

// SQLiteStorage implements HistoryStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		confidence REAL NOT NULL,
		department TEXT,
		language TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_history_user_created ON chat_history(user_id, created_at);

	CREATE TABLE IF NOT EXISTS tickets (
		ticket_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		department TEXT NOT NULL,
		status TEXT NOT NULL,
		sla_hours INTEGER NOT NULL,
		severity TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordChat inserts a chat row, assigning an id and timestamp when missing.
func (s *SQLiteStorage) RecordChat(ctx context.Context, chat *models.ChatRecord) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, user_id, query, response, confidence, department, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Query, chat.Response, chat.Confidence, chat.Department, chat.Language, chat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record chat: %w", err)
	}
	return nil
}

// ListChats returns the newest chats of userID first. limit <= 0 uses DefaultHistoryLimit.
func (s *SQLiteStorage) ListChats(ctx context.Context, userID int64, limit int) ([]*models.ChatRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, query, response, confidence, department, language, created_at
		 FROM chat_history WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []*models.ChatRecord{}
	for rows.Next() {
		var c models.ChatRecord
		var dept, lang sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Query, &c.Response, &c.Confidence, &dept, &lang, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Department = dept.String
		c.Language = lang.String
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// CountChats returns the number of recorded chats.
func (s *SQLiteStorage) CountChats(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_history").Scan(&count)
	return count, err
}

// CreateTicket inserts an escalation ticket. The timestamp is set when missing.
func (s *SQLiteStorage) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.TicketID == "" {
		return fmt.Errorf("ticket id is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket_id, user_id, text, department, status, sla_hours, severity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TicketID, t.UserID, t.Text, t.Department, t.Status, t.SLAHours, t.Severity, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicket returns a ticket by id.
func (s *SQLiteStorage) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, user_id, text, department, status, sla_hours, severity, created_at
		 FROM tickets WHERE ticket_id = ?`, ticketID,
	).Scan(&t.TicketID, &t.UserID, &t.Text, &t.Department, &t.Status, &t.SLAHours, &t.Severity, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns the tickets of userID, newest first.
func (s *SQLiteStorage) ListTickets(ctx context.Context, userID int64) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_id, user_id, text, department, status, sla_hours, severity, created_at
		 FROM tickets WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []*models.Ticket{}
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.TicketID, &t.UserID, &t.Text, &t.Department, &t.Status, &t.SLAHours, &t.Severity, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
