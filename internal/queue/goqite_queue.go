package queue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// GoqiteQueue is a broker-backed Queue implementation over maragu.dev/goqite,
// a durable, SQL-backed, at-least-once message queue. Adapted from the
// teacher's queue.Manager: one GoqiteQueue wraps one named goqite queue, so a
// service queue and the scheduler queue are each their own GoqiteQueue over
// the same *sql.DB.
type GoqiteQueue struct {
	db     *sql.DB
	name   string
	q      *goqite.Queue
	logger arbor.ILogger
}

// NewGoqiteQueue creates (or reopens) the named goqite queue. Setup is
// idempotent: "already exists" errors on the shared goqite table are ignored.
func NewGoqiteQueue(db *sql.DB, name string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*GoqiteQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := goqite.Setup(ctx, db); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, err
		}
	}

	q := goqite.New(goqite.NewOpts{
		DB:         db,
		Name:       name,
		MaxReceive: maxReceive,
		Extend:     visibilityTimeout,
	})

	return &GoqiteQueue{db: db, name: name, q: q, logger: logger}, nil
}

func (g *GoqiteQueue) SendMessage(ctx context.Context, body string, groupKey string) error {
	// groupKey is advisory (spec §4.1); goqite has no native ordered-group
	// concept, so the key is dropped and not stored with the message.
	_ = groupKey
	return g.q.Send(ctx, goqite.Message{Body: []byte(body)})
}

// GetMessages receives until maxN messages are collected or the queue is
// empty. If the very first receive finds nothing and waitSeconds > 0, it
// sleeps the full waitSeconds once and tries again, approximating spec §4.2's
// "drain up to B messages... long-poll first, then short-poll until empty or cap".
func (g *GoqiteQueue) GetMessages(ctx context.Context, maxN int, waitSeconds int) ([]interfaces.Message, error) {
	var out []interfaces.Message

	first := true
	for len(out) < maxN {
		gMsg, err := g.q.Receive(ctx)
		if err != nil {
			return out, err
		}
		if gMsg == nil {
			if first && waitSeconds > 0 {
				first = false
				select {
				case <-ctx.Done():
					return out, ctx.Err()
				case <-time.After(time.Duration(waitSeconds) * time.Second):
				}
				continue
			}
			break
		}
		first = false
		out = append(out, interfaces.Message{
			Body:    string(gMsg.Body),
			Receipt: string(gMsg.ID),
		})
	}
	return out, nil
}

func (g *GoqiteQueue) DeleteMessage(ctx context.Context, receipt string) error {
	return g.q.Delete(ctx, goqite.ID(receipt))
}

func (g *GoqiteQueue) DeleteMessages(ctx context.Context, receipts []string) error {
	for _, r := range receipts {
		if err := g.DeleteMessage(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *GoqiteQueue) Purge(ctx context.Context) error {
	for {
		msgs, err := g.GetMessages(ctx, 100, 0)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		receipts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			receipts = append(receipts, m.Receipt)
		}
		if err := g.DeleteMessages(ctx, receipts); err != nil {
			return err
		}
	}
}

func (g *GoqiteQueue) GetApproximateNumberOfMessages(ctx context.Context) (int, error) {
	var n int
	row := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM goqite WHERE queue = ?`, g.name)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
