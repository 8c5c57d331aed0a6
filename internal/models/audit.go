package models

import "time"

// ChatRecord is one answered chat turn kept for the audit trail.
type ChatRecord struct {
	ID         string    `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Query      string    `json:"query" db:"query"`
	Response   string    `json:"response" db:"response"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Department string    `json:"department" db:"department"`
	Language   string    `json:"language" db:"language"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Ticket is an escalated complaint created when a citizen replies NOT SOLVED.
type Ticket struct {
	TicketID   string    `json:"ticket_id" db:"ticket_id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Text       string    `json:"text" db:"text"`
	Department string    `json:"department" db:"department"`
	Status     string    `json:"status" db:"status"`
	SLAHours   int       `json:"sla_hours" db:"sla_hours"`
	Severity   string    `json:"severity" db:"severity"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ChatRequest is the body of a chat request.
type ChatRequest struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}
