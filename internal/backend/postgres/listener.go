package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend"
)

// channelName is the single NOTIFY channel the row triggers publish
// on. Events carry their table name; fan-out happens here.
const channelName = "volunteerhub_changes"

// Feed implements backend.ChangeFeed over LISTEN/NOTIFY. One dedicated
// connection listens; notifications are decoded and fanned out to
// per-collection subscribers.
type Feed struct {
	conn   *pgx.Conn
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	subs map[string][]*feedSub
}

// NewFeed opens the listening connection and starts the receive loop.
func NewFeed(ctx context.Context, url string, log *zap.Logger) (*Feed, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("listener connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", channelName, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		conn:   conn,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[string][]*feedSub),
	}
	go f.receive(loopCtx)
	return f, nil
}

func (f *Feed) receive(ctx context.Context) {
	defer close(f.done)
	for {
		notification, err := f.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Error("change feed receive failed", zap.Error(err))
			return
		}

		var raw backend.RawEvent
		if err := json.Unmarshal([]byte(notification.Payload), &raw); err != nil {
			f.log.Warn("undecodable notification payload", zap.Error(err))
			continue
		}
		f.deliver(raw)
	}
}

func (f *Feed) deliver(raw backend.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs[raw.Collection] {
		// After a drop the subscriber's view may be stale. As soon as
		// there is room again, queue an envelope it cannot decode; the
		// consumer answers those with a full re-fetch.
		if sub.lost {
			select {
			case sub.events <- backend.RawEvent{Collection: raw.Collection, Action: "RESYNC"}:
				sub.lost = false
			default:
				continue
			}
		}
		select {
		case sub.events <- raw:
		default:
			sub.lost = true
			f.log.Warn("subscriber buffer full, dropping event",
				zap.String("collection", raw.Collection),
				zap.String("action", raw.Action))
		}
	}
}

// Subscribe implements backend.ChangeFeed.
func (f *Feed) Subscribe(_ context.Context, collection string) (backend.Subscription, error) {
	sub := &feedSub{
		feed:       f,
		collection: collection,
		events:     make(chan backend.RawEvent, 256),
	}
	f.mu.Lock()
	f.subs[collection] = append(f.subs[collection], sub)
	f.mu.Unlock()
	return sub, nil
}

// Close stops the receive loop and closes the listening connection.
// Subscriptions still open stop receiving events but stay valid to
// unsubscribe.
func (f *Feed) Close(ctx context.Context) error {
	f.cancel()
	<-f.done
	return f.conn.Close(ctx)
}

type feedSub struct {
	feed       *Feed
	collection string
	events     chan backend.RawEvent
	once       sync.Once

	// lost marks that at least one event was dropped on a full buffer
	// and a resync envelope is still owed. Guarded by feed.mu.
	lost bool
}

func (s *feedSub) Events() <-chan backend.RawEvent { return s.events }

func (s *feedSub) Unsubscribe() error {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		subs := f.subs[s.collection]
		for i, existing := range subs {
			if existing == s {
				f.subs[s.collection] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(s.events)
	})
	return nil
}
