package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend"
	"github.com/neighborly/volunteerhub/internal/models"
	"github.com/neighborly/volunteerhub/internal/notify"
	"github.com/neighborly/volunteerhub/internal/store"
)

// Config wires an Engine. Store and Feed are required; the rest have
// working defaults.
type Config struct {
	Store    backend.Store
	Feed     backend.ChangeFeed
	Notifier notify.Dispatcher
	Now      Clock
	// SweepInterval is the expiry sweep period. Zero disables the
	// sweeper; the default used by the server is 24h.
	SweepInterval time.Duration
	Log           *zap.Logger
}

// Engine owns the local stores and serializes every mutation
// (optimistic writes, decoded change events, full re-fetches) through
// one run loop, so event handling keeps the ordering guarantees of a
// single-threaded event loop while snapshots stay safe to read from
// any goroutine.
type Engine struct {
	backend  backend.Store
	feed     backend.ChangeFeed
	notifier notify.Dispatcher
	now      Clock
	log      *zap.Logger

	mu            stdsync.RWMutex
	opportunities *store.Keyed[models.Opportunity]
	applications  *store.Keyed[models.Application]
	messages      *store.Keyed[models.Message]

	workflow *Workflow

	tasks chan func()
	done  chan struct{}

	subs    []backend.Subscription
	sweeper *Sweeper

	wg        stdsync.WaitGroup
	closeOnce stdsync.Once
	closeErr  error

	// lifeMu orders enqueues against shutdown: once closed is set no
	// new waiting task enters the queue, so the drain on exit is
	// complete and no caller blocks on a task that will never run.
	lifeMu stdsync.RWMutex
	closed bool

	sweepInterval time.Duration
}

// New builds an Engine. It does not touch the backend; call Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sync: backend store is required")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("sync: change feed is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Engine{
		backend:       cfg.Store,
		feed:          cfg.Feed,
		notifier:      cfg.Notifier,
		now:           cfg.Now,
		log:           cfg.Log,
		opportunities: store.NewKeyed[models.Opportunity](),
		applications:  store.NewKeyed[models.Application](),
		messages:      store.NewKeyed[models.Message](),
		workflow:      NewWorkflow(),
		tasks:         make(chan func(), 256),
		done:          make(chan struct{}),
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Start performs the initial fetch of all collections, opens one
// subscription per collection, and starts the run loop and, when
// configured, the expiry sweeper. On any error it releases whatever it
// already acquired.
func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.run()

	if err := e.RefetchAll(ctx); err != nil {
		e.Close()
		return fmt.Errorf("initial fetch: %w", err)
	}

	for _, collection := range []string{
		backend.CollectionOpportunities,
		backend.CollectionApplications,
		backend.CollectionMessages,
	} {
		sub, err := e.feed.Subscribe(ctx, collection)
		if err != nil {
			e.Close()
			return fmt.Errorf("subscribe %s: %w", collection, err)
		}
		e.subs = append(e.subs, sub)
		e.wg.Add(1)
		go e.pump(sub)
	}

	if e.sweepInterval > 0 {
		e.sweeper = NewSweeper(e, e.backend, e.sweepInterval, e.now, e.log)
		e.sweeper.Start()
	}
	return nil
}

// Close tears the engine down: the sweeper timer stops, every
// subscription is released exactly once, and the run loop drains.
// Safe to call more than once and on any exit path.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.sweeper != nil {
			e.sweeper.Stop()
		}
		for _, sub := range e.subs {
			if err := sub.Unsubscribe(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		e.lifeMu.Lock()
		e.closed = true
		e.lifeMu.Unlock()
		close(e.done)
		e.wg.Wait()
	})
	return e.closeErr
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case task := <-e.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// pump forwards raw events from one subscription into the run loop.
func (e *Engine) pump(sub backend.Subscription) {
	defer e.wg.Done()
	for {
		select {
		case raw, ok := <-sub.Events():
			if !ok {
				return
			}
			e.enqueue(func() { e.applyRaw(raw) })
		case <-e.done:
			return
		}
	}
}

func (e *Engine) enqueue(task func()) {
	select {
	case e.tasks <- task:
	case <-e.done:
	}
}

// do runs task on the run loop and waits for it. After shutdown the
// task runs inline; the stores outlive the loop and stay consistent
// for final reads.
func (e *Engine) do(task func()) {
	e.lifeMu.RLock()
	if e.closed {
		e.lifeMu.RUnlock()
		task()
		return
	}
	ran := make(chan struct{})
	e.tasks <- func() {
		task()
		close(ran)
	}
	e.lifeMu.RUnlock()
	<-ran
}

// Refetch replaces a collection's local contents with the backend's
// authoritative rows. The safe-but-expensive answer to unknown events.
func (e *Engine) Refetch(ctx context.Context, collection string) error {
	switch collection {
	case backend.CollectionOpportunities:
		rows, err := e.backend.ListOpportunities(ctx)
		if err != nil {
			return err
		}
		e.do(func() {
			e.mu.Lock()
			e.opportunities.Replace(rows)
			e.mu.Unlock()
		})
	case backend.CollectionApplications:
		rows, err := e.backend.ListApplications(ctx)
		if err != nil {
			return err
		}
		e.do(func() {
			e.mu.Lock()
			e.applications.Replace(rows)
			e.mu.Unlock()
		})
	case backend.CollectionMessages:
		rows, err := e.backend.ListMessages(ctx)
		if err != nil {
			return err
		}
		e.do(func() {
			e.mu.Lock()
			e.messages.Replace(rows)
			e.mu.Unlock()
		})
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
	return nil
}

// RefetchAll re-fetches every collection.
func (e *Engine) RefetchAll(ctx context.Context) error {
	for _, collection := range []string{
		backend.CollectionOpportunities,
		backend.CollectionApplications,
		backend.CollectionMessages,
	} {
		if err := e.Refetch(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

// refetchAsync runs a re-fetch off the run loop, logging failure. The
// local view degrades to its last-known state until the next event or
// sweep.
func (e *Engine) refetchAsync(collection string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Refetch(ctx, collection); err != nil {
			e.log.Error("re-fetch failed", zap.String("collection", collection), zap.Error(err))
		}
	}()
}

// dispatch hands an intent to the notifier without blocking the
// caller. Failures are logged and dropped; they never affect stored
// state.
func (e *Engine) dispatch(intents []models.NotificationIntent) {
	for _, intent := range intents {
		intent := intent
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.notifier.Dispatch(ctx, intent); err != nil {
				e.log.Error("notification dispatch failed",
					zap.String("kind", intent.Kind),
					zap.String("recipient", intent.Recipient),
					zap.Error(err))
			}
		}()
	}
}

// Read-side accessors. Every result is a detached snapshot.

// Opportunities returns the full local opportunity collection in store
// order, including entries hidden by the visibility rule.
func (e *Engine) Opportunities() []models.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opportunities.Snapshot()
}

// VisibleOpportunities returns the subset open to browsing volunteers.
func (e *Engine) VisibleOpportunities() []models.Opportunity {
	today := Today(e.now())
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.opportunities.Snapshot()
	out := make([]models.Opportunity, 0, len(all))
	for _, o := range all {
		if Visible(o, today) {
			out = append(out, o)
		}
	}
	return out
}

// SearchOpportunities applies the filter over the visible set.
func (e *Engine) SearchOpportunities(f Filter) []models.Opportunity {
	return Apply(e.VisibleOpportunities(), f)
}

// Opportunity returns one opportunity by id.
func (e *Engine) Opportunity(id uuid.UUID) (models.Opportunity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opportunities.Get(id)
}

// Applications returns the full local application collection.
func (e *Engine) Applications() []models.Application {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applications.Snapshot()
}

// Application returns one application by id.
func (e *Engine) Application(id uuid.UUID) (models.Application, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applications.Get(id)
}

// ApplicationsForOpportunity returns applications referencing the
// given opportunity, in store order.
func (e *Engine) ApplicationsForOpportunity(oppID uuid.UUID) []models.Application {
	all := e.Applications()
	out := make([]models.Application, 0, len(all))
	for _, a := range all {
		if a.OpportunityID == oppID {
			out = append(out, a)
		}
	}
	return out
}

// ApplicationsByUser returns the given user's applications.
func (e *Engine) ApplicationsByUser(userID uuid.UUID) []models.Application {
	all := e.Applications()
	out := make([]models.Application, 0, len(all))
	for _, a := range all {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// MessagesForApplication returns a conversation oldest-first.
func (e *Engine) MessagesForApplication(appID uuid.UUID) []models.Message {
	e.mu.RLock()
	all := e.messages.Snapshot()
	e.mu.RUnlock()
	out := make([]models.Message, 0, len(all))
	// Store order is most-recent-first; conversations read top-down.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ApplicationID == appID {
			out = append(out, all[i])
		}
	}
	return out
}
