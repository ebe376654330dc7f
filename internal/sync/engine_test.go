package sync

import (
	"context"
	"encoding/json"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend"
	"github.com/neighborly/volunteerhub/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
}

// fakeStore is an in-memory backend.Store with injectable write
// failures.
type fakeStore struct {
	mu            stdsync.Mutex
	opportunities []models.Opportunity
	applications  []models.Application
	messages      []models.Message

	insertOppErr    error
	updateOppErr    error
	deleteOppErr    error
	insertAppErr    error
	updateStatusErr error
	insertMsgErr    error
}

func (s *fakeStore) ListOpportunities(context.Context) ([]models.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Opportunity(nil), s.opportunities...), nil
}

func (s *fakeStore) InsertOpportunity(_ context.Context, o models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertOppErr != nil {
		return s.insertOppErr
	}
	s.opportunities = append(s.opportunities, o)
	return nil
}

func (s *fakeStore) UpdateOpportunity(_ context.Context, o models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateOppErr != nil {
		return s.updateOppErr
	}
	for i := range s.opportunities {
		if s.opportunities[i].ID == o.ID {
			s.opportunities[i] = o
			return nil
		}
	}
	return errors.New("no such opportunity")
}

func (s *fakeStore) DeleteOpportunity(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteOppErr != nil {
		return s.deleteOppErr
	}
	opps := s.opportunities[:0]
	for _, o := range s.opportunities {
		if o.ID != id {
			opps = append(opps, o)
		}
	}
	s.opportunities = opps
	apps := s.applications[:0]
	for _, a := range s.applications {
		if a.OpportunityID != id {
			apps = append(apps, a)
		}
	}
	s.applications = apps
	msgs := s.messages[:0]
	for _, m := range s.messages {
		if m.OpportunityID != id {
			msgs = append(msgs, m)
		}
	}
	s.messages = msgs
	return nil
}

func (s *fakeStore) MarkExpiredTaken(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.opportunities {
		if !s.opportunities[i].IsTaken && s.opportunities[i].Date.Before(before) {
			s.opportunities[i].IsTaken = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListApplications(context.Context) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Application(nil), s.applications...), nil
}

func (s *fakeStore) InsertApplication(_ context.Context, a models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertAppErr != nil {
		return s.insertAppErr
	}
	s.applications = append(s.applications, a)
	return nil
}

func (s *fakeStore) UpdateApplicationStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateStatusErr != nil {
		return s.updateStatusErr
	}
	for i := range s.applications {
		if s.applications[i].ID == id {
			s.applications[i].Status = status
			return nil
		}
	}
	return errors.New("no such application")
}

func (s *fakeStore) ListMessages(context.Context) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...), nil
}

func (s *fakeStore) InsertMessage(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertMsgErr != nil {
		return s.insertMsgErr
	}
	s.messages = append(s.messages, m)
	return nil
}

type fakeSub struct {
	events chan backend.RawEvent
	once   stdsync.Once
}

func (s *fakeSub) Events() <-chan backend.RawEvent { return s.events }

func (s *fakeSub) Unsubscribe() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type fakeFeed struct {
	mu   stdsync.Mutex
	subs map[string]*fakeSub
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string]*fakeSub)}
}

func (f *fakeFeed) Subscribe(_ context.Context, collection string) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{events: make(chan backend.RawEvent, 16)}
	f.subs[collection] = sub
	return sub, nil
}

func (f *fakeFeed) publish(ev backend.RawEvent) {
	f.mu.Lock()
	sub := f.subs[ev.Collection]
	f.mu.Unlock()
	sub.events <- ev
}

type fakeNotifier struct {
	mu      stdsync.Mutex
	intents []models.NotificationIntent
}

func (n *fakeNotifier) Dispatch(_ context.Context, intent models.NotificationIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, intent)
	return nil
}

func (n *fakeNotifier) byKind(kind string) []models.NotificationIntent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationIntent
	for _, i := range n.intents {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *fakeFeed, *fakeNotifier) {
	t.Helper()
	feed := newFakeFeed()
	notifier := &fakeNotifier{}
	eng, err := New(Config{
		Store:    store,
		Feed:     feed,
		Notifier: notifier,
		Now:      fixedNow,
		Log:      zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, feed, notifier
}

// apply runs a raw event on the run loop and waits for it, mirroring
// the arrival of one change notification.
func (e *Engine) apply(raw backend.RawEvent) {
	e.do(func() { e.applyRaw(raw) })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func futureOpportunity(creator uuid.UUID) models.Opportunity {
	return models.Opportunity{
		ID:           uuid.New(),
		Title:        "Strandrydding",
		Description:  "Rydding av strender",
		Organization: "Miljøforeningen",
		Location:     "Oslo",
		Date:         fixedNow().AddDate(0, 0, 7),
		Category:     models.CategoryEnvironment,
		ContactEmail: "org@example.no",
		CreatorID:    creator,
		CreatedAt:    fixedNow(),
	}
}

func TestEngine_StartLoadsInitialState(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	store := &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications: []models.Application{{
			ID:            uuid.New(),
			OpportunityID: opp.ID,
			UserID:        uuid.New(),
			Status:        models.StatusPending,
		}},
	}
	eng, _, _ := newTestEngine(t, store)

	if got := len(eng.Opportunities()); got != 1 {
		t.Fatalf("expected 1 opportunity, got %d", got)
	}
	if got := len(eng.Applications()); got != 1 {
		t.Fatalf("expected 1 application, got %d", got)
	}
}

func TestEngine_InsertEventMergesOnlyVisible(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})

	visible := futureOpportunity(uuid.New())
	expired := futureOpportunity(uuid.New())
	expired.Date = fixedNow().AddDate(0, 0, -1)

	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
		New:        mustJSON(t, visible),
	})
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
		New:        mustJSON(t, expired),
	})

	got := eng.Opportunities()
	if len(got) != 1 || got[0].ID != visible.ID {
		t.Fatalf("expected only the visible opportunity, got %v", got)
	}
}

func TestEngine_ReplayedInsertIsIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})
	opp := futureOpportunity(uuid.New())
	raw := backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
		New:        mustJSON(t, opp),
	}

	eng.apply(raw)
	eng.apply(raw)

	if got := len(eng.Opportunities()); got != 1 {
		t.Fatalf("expected 1 after replay, got %d", got)
	}
}

func TestEngine_UpdateEventOutOfVisibilityRemoves(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	eng, _, _ := newTestEngine(t, &fakeStore{opportunities: []models.Opportunity{opp}})

	taken := opp
	taken.IsTaken = true
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "UPDATE",
		New:        mustJSON(t, taken),
		Old:        mustJSON(t, opp),
	})

	if _, ok := eng.Opportunity(opp.ID); ok {
		t.Fatal("taken opportunity must leave the local set")
	}
}

func TestEngine_UnknownEventTriggersRefetch(t *testing.T) {
	store := &fakeStore{}
	eng, _, _ := newTestEngine(t, store)

	// A row appears in the backend without a decodable notification.
	late := futureOpportunity(uuid.New())
	store.mu.Lock()
	store.opportunities = append(store.opportunities, late)
	store.mu.Unlock()

	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "TRUNCATE",
	})

	waitFor(t, func() bool {
		_, ok := eng.Opportunity(late.ID)
		return ok
	})
}

func TestEngine_BareEnvelopeTriggersRefetch(t *testing.T) {
	store := &fakeStore{}
	eng, _, _ := newTestEngine(t, store)

	// A row too large to notify about arrives as a payloadless
	// envelope with only the table and action filled in.
	oversized := futureOpportunity(uuid.New())
	store.mu.Lock()
	store.opportunities = append(store.opportunities, oversized)
	store.mu.Unlock()

	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
	})

	waitFor(t, func() bool {
		_, ok := eng.Opportunity(oversized.ID)
		return ok
	})
}

func TestUpdateOpportunity_EchoEventLeavesStoreUntouched(t *testing.T) {
	creator := uuid.New()
	first := futureOpportunity(creator)
	second := futureOpportunity(creator)
	eng, _, _ := newTestEngine(t, &fakeStore{
		opportunities: []models.Opportunity{first, second},
	})

	second.Title = "Oppdatert tittel"
	if err := eng.UpdateOpportunity(context.Background(), creator, second); err != nil {
		t.Fatal(err)
	}
	before := eng.Opportunities()

	// The backend echoes the update we already applied.
	updated, _ := eng.Opportunity(second.ID)
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "UPDATE",
		New:        mustJSON(t, updated),
		Old:        mustJSON(t, second),
	})

	after := eng.Opportunities()
	if len(after) != len(before) {
		t.Fatalf("echo changed the entry count, %d != %d", len(after), len(before))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Fatalf("echo reordered entries at %d", i)
		}
	}
	got, _ := eng.Opportunity(second.ID)
	if got.Title != "Oppdatert tittel" {
		t.Fatalf("echo clobbered the update, got %q", got.Title)
	}
}

func TestEngine_FeedEventReachesStore(t *testing.T) {
	eng, feed, _ := newTestEngine(t, &fakeStore{})
	opp := futureOpportunity(uuid.New())

	feed.publish(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
		New:        mustJSON(t, opp),
	})

	waitFor(t, func() bool {
		_, ok := eng.Opportunity(opp.ID)
		return ok
	})
}

func TestCreateOpportunity_VisibleImmediatelyAndPersisted(t *testing.T) {
	store := &fakeStore{}
	eng, _, _ := newTestEngine(t, store)

	created, err := eng.CreateOpportunity(context.Background(), futureOpportunity(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := eng.Opportunity(created.ID); !ok {
		t.Fatal("created opportunity must be readable before any event arrives")
	}
	store.mu.Lock()
	persisted := len(store.opportunities)
	store.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("expected 1 persisted row, got %d", persisted)
	}
}

func TestCreateOpportunity_NewestFirst(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})

	first, err := eng.CreateOpportunity(context.Background(), futureOpportunity(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.CreateOpportunity(context.Background(), futureOpportunity(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}

	got := eng.Opportunities()
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("expected newest first, got %v", got)
	}
}

func TestCreateOpportunity_RollbackRestoresSnapshot(t *testing.T) {
	creator := uuid.New()
	seeded := futureOpportunity(creator)
	store := &fakeStore{opportunities: []models.Opportunity{seeded}}
	eng, _, _ := newTestEngine(t, store)

	before := eng.Opportunities()
	store.mu.Lock()
	store.insertOppErr = errors.New("connection reset")
	store.mu.Unlock()

	if _, err := eng.CreateOpportunity(context.Background(), futureOpportunity(creator)); err == nil {
		t.Fatal("expected the insert failure to surface")
	}

	after := eng.Opportunities()
	if len(after) != len(before) {
		t.Fatalf("expected %d after rollback, got %d", len(before), len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Fatalf("order differs at %d after rollback", i)
		}
	}
}

func TestCreateOpportunity_EchoEventDoesNotDuplicate(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})

	created, err := eng.CreateOpportunity(context.Background(), futureOpportunity(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}

	// The backend notifies about the row we just wrote.
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionOpportunities,
		Action:     "INSERT",
		New:        mustJSON(t, created),
	})

	if got := len(eng.Opportunities()); got != 1 {
		t.Fatalf("echo must not duplicate, got %d", got)
	}
}

func TestCreateOpportunity_RejectsUnknownCategory(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})
	opp := futureOpportunity(uuid.New())
	opp.Category = "Hagearbeid"

	if _, err := eng.CreateOpportunity(context.Background(), opp); err == nil {
		t.Fatal("expected category validation to fail")
	}
}

func TestCreateOpportunity_StripsMarkup(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeStore{})
	opp := futureOpportunity(uuid.New())
	opp.Title = `<script>alert(1)</script>Strandrydding`

	created, err := eng.CreateOpportunity(context.Background(), opp)
	if err != nil {
		t.Fatal(err)
	}
	if created.Title != "Strandrydding" {
		t.Fatalf("expected markup stripped, got %q", created.Title)
	}
}

func TestUpdateOpportunity_OnlyOwner(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	eng, _, _ := newTestEngine(t, &fakeStore{opportunities: []models.Opportunity{opp}})

	opp.Title = "Nytt navn"
	if err := eng.UpdateOpportunity(context.Background(), uuid.New(), opp); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := eng.UpdateOpportunity(context.Background(), creator, opp); err != nil {
		t.Fatal(err)
	}
	got, _ := eng.Opportunity(opp.ID)
	if got.Title != "Nytt navn" {
		t.Fatalf("update not applied, got %q", got.Title)
	}
}

func TestDeleteOpportunity_CascadesLocally(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		UserID:        uuid.New(),
		Status:        models.StatusPending,
	}
	msg := models.Message{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		ApplicationID: app.ID,
		SenderID:      app.UserID,
		ReceiverID:    creator,
		Content:       "Hei",
	}
	store := &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
		messages:      []models.Message{msg},
	}
	eng, _, _ := newTestEngine(t, store)

	if err := eng.DeleteOpportunity(context.Background(), creator, opp.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := eng.Opportunity(opp.ID); ok {
		t.Fatal("opportunity still present after delete")
	}
	if got := len(eng.Applications()); got != 0 {
		t.Fatalf("applications not cascaded, %d left", got)
	}
	if got := len(eng.MessagesForApplication(app.ID)); got != 0 {
		t.Fatalf("messages not cascaded, %d left", got)
	}
}

func TestDeleteOpportunity_RollbackRestoresEverything(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		UserID:        uuid.New(),
		Status:        models.StatusPending,
	}
	store := &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	}
	eng, _, _ := newTestEngine(t, store)
	store.mu.Lock()
	store.deleteOppErr = errors.New("deadlock detected")
	store.mu.Unlock()

	if err := eng.DeleteOpportunity(context.Background(), creator, opp.ID); err == nil {
		t.Fatal("expected delete failure to surface")
	}
	if _, ok := eng.Opportunity(opp.ID); !ok {
		t.Fatal("opportunity not restored")
	}
	if _, ok := eng.Application(app.ID); !ok {
		t.Fatal("application not restored")
	}
}

func TestCreateApplication_OnePerUserPerOpportunity(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	eng, _, _ := newTestEngine(t, &fakeStore{opportunities: []models.Opportunity{opp}})

	applicant := uuid.New()
	first := models.Application{
		OpportunityID:  opp.ID,
		UserID:         applicant,
		ApplicantName:  "Kari",
		ApplicantEmail: "kari@example.no",
	}
	if _, err := eng.CreateApplication(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CreateApplication(context.Background(), first); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
}

func TestCreateApplication_NotifiesOpportunityContact(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	eng, _, notifier := newTestEngine(t, &fakeStore{opportunities: []models.Opportunity{opp}})

	_, err := eng.CreateApplication(context.Background(), models.Application{
		OpportunityID:  opp.ID,
		UserID:         uuid.New(),
		ApplicantEmail: "kari@example.no",
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		got := notifier.byKind(models.NotifyNewApplication)
		return len(got) == 1 && got[0].Recipient == opp.ContactEmail
	})
}

func TestChangeApplicationStatus_ApprovalEmitsOnceDespiteEcho(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:             uuid.New(),
		OpportunityID:  opp.ID,
		UserID:         uuid.New(),
		ApplicantEmail: "kari@example.no",
		Status:         models.StatusPending,
	}
	store := &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	}
	eng, _, notifier := newTestEngine(t, store)

	if err := eng.ChangeApplicationStatus(context.Background(), creator, app.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return len(notifier.byKind(models.NotifyApplicationApproved)) == 1
	})

	// The echoing change event replays the same transition.
	approved := app
	approved.Status = models.StatusApproved
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionApplications,
		Action:     "UPDATE",
		New:        mustJSON(t, approved),
		Old:        mustJSON(t, app),
	})
	eng.apply(backend.RawEvent{
		Collection: backend.CollectionApplications,
		Action:     "UPDATE",
		New:        mustJSON(t, approved),
		Old:        mustJSON(t, app),
	})

	time.Sleep(50 * time.Millisecond)
	if got := len(notifier.byKind(models.NotifyApplicationApproved)); got != 1 {
		t.Fatalf("expected exactly 1 approval intent, got %d", got)
	}
}

func TestChangeApplicationStatus_OnlyOpportunityOwner(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		UserID:        uuid.New(),
		Status:        models.StatusPending,
	}
	eng, _, _ := newTestEngine(t, &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	})

	err := eng.ChangeApplicationStatus(context.Background(), uuid.New(), app.ID, models.StatusApproved)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	got, _ := eng.Application(app.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("status must not change, got %s", got.Status)
	}
}

func TestChangeApplicationStatus_RollbackThenRetryEmits(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:             uuid.New(),
		OpportunityID:  opp.ID,
		UserID:         uuid.New(),
		ApplicantEmail: "kari@example.no",
		Status:         models.StatusPending,
	}
	store := &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	}
	eng, _, notifier := newTestEngine(t, store)

	store.mu.Lock()
	store.updateStatusErr = errors.New("connection reset")
	store.mu.Unlock()
	if err := eng.ChangeApplicationStatus(context.Background(), creator, app.ID, models.StatusApproved); err == nil {
		t.Fatal("expected the write failure to surface")
	}
	got, _ := eng.Application(app.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("expected rollback to pending, got %s", got.Status)
	}
	if n := len(notifier.byKind(models.NotifyApplicationApproved)); n != 0 {
		t.Fatalf("failed transition must not notify, got %d", n)
	}

	store.mu.Lock()
	store.updateStatusErr = nil
	store.mu.Unlock()
	if err := eng.ChangeApplicationStatus(context.Background(), creator, app.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return len(notifier.byKind(models.NotifyApplicationApproved)) == 1
	})
}

func TestChangeApplicationStatus_DecidedApplicationIsFinal(t *testing.T) {
	creator := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		UserID:        uuid.New(),
		Status:        models.StatusRejected,
	}
	eng, _, _ := newTestEngine(t, &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	})

	if err := eng.ChangeApplicationStatus(context.Background(), creator, app.ID, models.StatusApproved); err != nil {
		t.Fatalf("deciding a decided application must be a silent no-op, got %v", err)
	}
	got, _ := eng.Application(app.ID)
	if got.Status != models.StatusRejected {
		t.Fatalf("terminal status changed to %s", got.Status)
	}
}

func TestSendMessage_DerivesReceiver(t *testing.T) {
	creator := uuid.New()
	applicant := uuid.New()
	opp := futureOpportunity(creator)
	app := models.Application{
		ID:            uuid.New(),
		OpportunityID: opp.ID,
		UserID:        applicant,
		Status:        models.StatusApproved,
	}
	eng, _, _ := newTestEngine(t, &fakeStore{
		opportunities: []models.Opportunity{opp},
		applications:  []models.Application{app},
	})

	fromApplicant, err := eng.SendMessage(context.Background(), applicant, app.ID, "Hei!")
	if err != nil {
		t.Fatal(err)
	}
	if fromApplicant.ReceiverID != creator {
		t.Fatalf("expected receiver %s, got %s", creator, fromApplicant.ReceiverID)
	}

	fromCreator, err := eng.SendMessage(context.Background(), creator, app.ID, "Hei tilbake!")
	if err != nil {
		t.Fatal(err)
	}
	if fromCreator.ReceiverID != applicant {
		t.Fatalf("expected receiver %s, got %s", applicant, fromCreator.ReceiverID)
	}

	if _, err := eng.SendMessage(context.Background(), uuid.New(), app.ID, "Hei?"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	conversation := eng.MessagesForApplication(app.ID)
	if len(conversation) != 2 || conversation[0].ID != fromApplicant.ID {
		t.Fatalf("expected oldest-first conversation, got %v", conversation)
	}
}

func TestSweeper_SweepHidesExpired(t *testing.T) {
	stale := futureOpportunity(uuid.New())
	stale.Date = fixedNow().AddDate(0, 0, -2)
	fresh := futureOpportunity(uuid.New())
	store := &fakeStore{opportunities: []models.Opportunity{stale, fresh}}
	eng, _, _ := newTestEngine(t, store)

	sweeper := NewSweeper(eng, store, time.Hour, fixedNow, zap.NewNop())
	sweeper.Sweep(context.Background())

	visible := eng.VisibleOpportunities()
	if len(visible) != 1 || visible[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh opportunity after sweep, got %v", visible)
	}
	got, ok := eng.Opportunity(stale.ID)
	if !ok || !got.IsTaken {
		t.Fatal("swept opportunity must be present locally and marked taken")
	}
}

func TestSweeper_SameDayNotSwept(t *testing.T) {
	today := futureOpportunity(uuid.New())
	today.Date = fixedNow().Add(-3 * time.Hour)
	store := &fakeStore{opportunities: []models.Opportunity{today}}
	eng, _, _ := newTestEngine(t, store)

	NewSweeper(eng, store, time.Hour, fixedNow, zap.NewNop()).Sweep(context.Background())

	if got := eng.VisibleOpportunities(); len(got) != 1 {
		t.Fatalf("same-day opportunity must survive the sweep, got %v", got)
	}
}
