// Package notify is the fire-and-forget status-change banner sink. Delivery
// failures never block or fail a permit transition.
package notify

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is a user-facing status-change message.
type Event struct {
	Type     string
	Title    string
	Message  string
	PermitID string
	Category string
}

// Sink consumes lifecycle notifications. Implementations must not block.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) Notify(context.Context, Event) {}

// SQLSink persists notifications for the UI to render. Writes happen outside
// the mutation transaction; a failed insert is logged and dropped.
type SQLSink struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

func (s SQLSink) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s SQLSink) Notify(ctx context.Context, e Event) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO notifications(id,type,title,message,permit_id,category,created_at) VALUES (?,?,?,?,?,?,?)`,
		uuid.New().String(), e.Type, e.Title, e.Message, nullable(e.PermitID), nullable(e.Category), now().UTC().Format(time.RFC3339))
	if err != nil {
		s.logger().Printf("notify: dropping %s for permit %s: %v", e.Type, e.PermitID, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
