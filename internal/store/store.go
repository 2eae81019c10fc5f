// ABOUTME: Store interface and data types for botemulator persistence
// ABOUTME: Defines ActivityRecord, ConversationSummary and the history store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateActivity is returned when archiving an activity id that is
// already present for the conversation
var ErrDuplicateActivity = errors.New("activity already archived")

// Direction indicates which way an activity travelled through the emulator.
type Direction string

const (
	DirectionToBot  Direction = "to_bot"
	DirectionToUser Direction = "to_user"
	DirectionFed    Direction = "fed"
)

// ActivityRecord is a normalized row in the conversation history ledger.
// Every activity that enters a transcript is archived here, whatever path
// it arrived by, so history survives conversation deletion.
type ActivityRecord struct {
	ActivityID     string
	ConversationID string
	Direction      Direction
	Type           string
	ReplyToID      string
	Payload        []byte // full activity JSON as it appeared in the transcript
	CreatedAt      time.Time
}

// ConversationSummary describes one conversation present in the ledger.
type ConversationSummary struct {
	ConversationID string
	ActivityCount  int
	FirstActivity  time.Time
	LastActivity   time.Time
}

// Store defines the interface for activity history persistence
type Store interface {
	// SaveActivity archives one activity. Records are append-only; saving
	// the same activity id twice for a conversation is an error.
	SaveActivity(ctx context.Context, rec *ActivityRecord) error

	// GetActivities returns the archived activities for a conversation in
	// insertion order. limit <= 0 means no limit.
	GetActivities(ctx context.Context, conversationID string, limit int) ([]*ActivityRecord, error)

	// ListConversations returns summaries for every conversation in the
	// ledger, most recently active first.
	ListConversations(ctx context.Context) ([]*ConversationSummary, error)

	// DeleteConversationHistory removes all records for a conversation.
	// Deleting an unknown conversation is a no-op.
	DeleteConversationHistory(ctx context.Context, conversationID string) error

	Close() error
}
