// Package dispute is the append-only message thread attached to a disputed deal.
package dispute

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/txn"
)

var (
	ErrEmptyMessage   = apperr.Validation("message text is required")
	ErrMessageTooLong = apperr.Validation("message text exceeds 4096 characters")
)

// MaxMessageLength is the longest message accepted, in characters.
const MaxMessageLength = 4096

// Message is one entry in a dispute thread.
type Message struct {
	ID       string    `json:"id"`
	DealID   string    `json:"dealId"`
	AuthorID string    `json:"authorId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Repo stores messages. There is no update or delete.
type Repo interface {
	Append(ctx context.Context, m *Message) error
	// List returns a deal's messages ordered by send time, then insertion.
	List(ctx context.Context, dealID string) ([]*Message, error)
	// Counts returns the number of messages per deal for the given ids.
	Counts(ctx context.Context, dealIDs []string) (map[string]int, error)
}

// Tx is the slice of a unit of work the log needs.
type Tx interface {
	Disputes() Repo
}

// NewMessage validates text and builds a message ready to append.
func NewMessage(dealID, authorID, text string, at time.Time) (*Message, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:       idgen.WithPrefix("msg_"),
		DealID:   dealID,
		AuthorID: authorID,
		Text:     text,
		SentAt:   at,
	}, nil
}

// Log reads dispute threads. Writes happen through the deal engine, which
// owns the authorization rules for posting.
type Log struct {
	uow txn.Runner[Tx]
}

// NewLog creates a dispute log reader.
func NewLog(uow txn.Runner[Tx]) *Log {
	return &Log{uow: uow}
}

// Messages returns the ordered thread for dealID; empty if none were posted.
func (l *Log) Messages(ctx context.Context, dealID string) ([]*Message, error) {
	var out []*Message
	err := l.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Disputes().List(ctx, dealID)
		return err
	})
	return out, err
}

// Counts returns message counts for the given deals.
func (l *Log) Counts(ctx context.Context, dealIDs []string) (map[string]int, error) {
	var out map[string]int
	err := l.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Disputes().Counts(ctx, dealIDs)
		return err
	})
	return out, err
}
