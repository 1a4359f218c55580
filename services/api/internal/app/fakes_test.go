package app

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
	"github.com/palqo/palqo/services/api/internal/mail"
	"github.com/palqo/palqo/services/api/internal/messages"
)

var errStoreDown = errors.New("connection refused")

type inTxKey struct{}

// fakeStore is an in-memory stand-in for the Postgres repositories. WithTx
// holds a mutex for the whole callback, like the capacity row lock, and
// restores a snapshot when the callback fails.
type fakeStore struct {
	mu sync.Mutex

	cycle       domain.EventCycle
	hasCycle    bool
	registrants []domain.Registrant
	masters     map[string]domain.MasterRegistrant
	reminders   map[string]*fakeReminder

	lockErr      error
	listErr      error
	mastersErr   error
	archiveErr   map[string]error
	incrementErr error
	setTakenErr  error
	claimErr     error
	completeErr  error
	getCycleErr  error
	getCycleHits int
}

type fakeReminder struct {
	domain.Reminder
	leaseUntil time.Time
}

func newFakeStore(maxSpots, spotsTaken int) *fakeStore {
	return &fakeStore{
		cycle:      domain.EventCycle{ID: 1, MaxSpots: maxSpots, SpotsTaken: spotsTaken},
		hasCycle:   true,
		masters:    make(map[string]domain.MasterRegistrant),
		reminders:  make(map[string]*fakeReminder),
		archiveErr: make(map[string]error),
	}
}

func (f *fakeStore) lock(ctx context.Context) func() {
	if ctx.Value(inTxKey{}) != nil {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cycle := f.cycle
	regs := append([]domain.Registrant(nil), f.registrants...)
	masters := make(map[string]domain.MasterRegistrant, len(f.masters))
	for k, v := range f.masters {
		masters[k] = v
	}

	err := fn(context.WithValue(ctx, inTxKey{}, true))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		f.cycle = cycle
		f.registrants = regs
		f.masters = masters
	}
	return err
}

func (f *fakeStore) GetCycleForUpdate(ctx context.Context) (domain.EventCycle, error) {
	defer f.lock(ctx)()
	if f.lockErr != nil {
		return domain.EventCycle{}, f.lockErr
	}
	if !f.hasCycle {
		return domain.EventCycle{}, domain.ErrCycleNotFound
	}
	return f.cycle, nil
}

func (f *fakeStore) GetCycle(ctx context.Context) (domain.EventCycle, error) {
	defer f.lock(ctx)()
	f.getCycleHits++
	if f.getCycleErr != nil {
		return domain.EventCycle{}, f.getCycleErr
	}
	return f.cycle, nil
}

func (f *fakeStore) SetMaxSpots(ctx context.Context, maxSpots int) (domain.EventCycle, error) {
	defer f.lock(ctx)()
	if f.cycle.SpotsTaken > maxSpots {
		return domain.EventCycle{}, domain.ErrCapacityBelowTaken
	}
	f.cycle.MaxSpots = maxSpots
	return f.cycle, nil
}

func (f *fakeStore) RegistrantExists(ctx context.Context, email string) (bool, error) {
	defer f.lock(ctx)()
	for _, r := range f.registrants {
		if r.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateRegistrant(ctx context.Context, reg domain.Registrant) error {
	defer f.lock(ctx)()
	for _, r := range f.registrants {
		if r.Email == reg.Email {
			return domain.ErrDuplicateRegistrant
		}
	}
	f.registrants = append(f.registrants, reg)
	return nil
}

func (f *fakeStore) IncrementSpotsTaken(ctx context.Context, cycleID int64) (domain.EventCycle, error) {
	defer f.lock(ctx)()
	if f.incrementErr != nil {
		return domain.EventCycle{}, f.incrementErr
	}
	if f.cycle.ID != cycleID || f.cycle.SpotsTaken >= f.cycle.MaxSpots {
		return domain.EventCycle{}, domain.ErrEventFull
	}
	f.cycle.SpotsTaken++
	return f.cycle, nil
}

func (f *fakeStore) ListRegistrants(ctx context.Context) ([]domain.Registrant, error) {
	defer f.lock(ctx)()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Registrant(nil), f.registrants...), nil
}

func (f *fakeStore) ListMasterRegistrants(ctx context.Context) ([]domain.MasterRegistrant, error) {
	defer f.lock(ctx)()
	if f.mastersErr != nil {
		return nil, f.mastersErr
	}
	out := make([]domain.MasterRegistrant, 0, len(f.masters))
	for _, m := range f.masters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f *fakeStore) ArchiveRegistrant(ctx context.Context, reg domain.Registrant) error {
	defer f.lock(ctx)()
	if err := f.archiveErr[reg.Email]; err != nil {
		return err
	}
	f.masters[reg.Email] = domain.MasterRegistrant{Email: reg.Email, Name: reg.Name, EventDate: reg.EventDate}
	return nil
}

func (f *fakeStore) DeleteRegistrants(ctx context.Context, ids []string) (int, error) {
	defer f.lock(ctx)()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.registrants[:0:0]
	for _, r := range f.registrants {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	n := len(f.registrants) - len(kept)
	f.registrants = kept
	return n, nil
}

func (f *fakeStore) SetSpotsTaken(ctx context.Context, cycleID int64, taken int) error {
	defer f.lock(ctx)()
	if f.setTakenErr != nil {
		return f.setTakenErr
	}
	if f.cycle.ID != cycleID {
		return domain.ErrCycleNotFound
	}
	f.cycle.SpotsTaken = taken
	return nil
}

func (f *fakeStore) ScheduleReminder(ctx context.Context, rem domain.Reminder) (bool, error) {
	defer f.lock(ctx)()
	for _, r := range f.reminders {
		if r.Email == rem.Email && r.EventDate.Equal(rem.EventDate) {
			return false, nil
		}
	}
	f.reminders[rem.ID] = &fakeReminder{Reminder: rem}
	return true, nil
}

func (f *fakeStore) ClaimDueReminders(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Reminder, error) {
	defer f.lock(ctx)()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var due []*fakeReminder
	for _, r := range f.reminders {
		if r.Status == domain.ReminderStatusPending && !r.DueAt.After(now) && r.leaseUntil.Before(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Reminder, 0, len(due))
	for _, r := range due {
		r.leaseUntil = now.Add(lease)
		out = append(out, r.Reminder)
	}
	return out, nil
}

func (f *fakeStore) CompleteReminder(ctx context.Context, id string, status domain.ReminderStatus, attempts int, lastError string) error {
	defer f.lock(ctx)()
	if f.completeErr != nil {
		return f.completeErr
	}
	r, ok := f.reminders[id]
	if !ok {
		return domain.ErrReminderNotFound
	}
	r.Status = status
	r.Attempts = attempts
	r.LastError = lastError
	r.leaseUntil = time.Time{}
	return nil
}

func (f *fakeStore) RetryReminder(ctx context.Context, id string, attempts int, dueAt time.Time, lastError string) error {
	defer f.lock(ctx)()
	r, ok := f.reminders[id]
	if !ok || r.Status != domain.ReminderStatusPending {
		return domain.ErrReminderNotFound
	}
	r.Attempts = attempts
	r.DueAt = dueAt
	r.LastError = lastError
	r.leaseUntil = time.Time{}
	return nil
}

func (f *fakeStore) reminderList() []domain.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Reminder, 0, len(f.reminders))
	for _, r := range f.reminders {
		out = append(out, r.Reminder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (f *fakeStore) snapshot() (domain.EventCycle, []domain.Registrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycle, append([]domain.Registrant(nil), f.registrants...)
}

// fakeSender records every message and fails the recipients listed in fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	fail map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: make(map[string]error)}
}

func (s *fakeSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.To]; err != nil {
		return &domain.TransportError{Recipient: msg.To, Err: err}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) SendBulk(ctx context.Context, msgs []mail.Message) []mail.Result {
	results := make([]mail.Result, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, mail.Result{Recipient: msg.To, Err: s.Send(ctx, msg)})
	}
	return results
}

func (s *fakeSender) messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	regs []domain.Registrant
}

func (n *recordingNotifier) Notify(_ context.Context, reg domain.Registrant) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.regs = append(n.regs, reg)
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func london(t testing.TB) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

func sundayCalendar(t testing.TB) *calendar.Calculator {
	t.Helper()
	calc, err := calendar.New(time.Sunday, london(t), calendar.WithStart(11*time.Hour))
	require.NoError(t, err)
	return calc
}

// sundayEvening is the default cleanup slot right after the 2026-10-18 session.
func sundayEvening(t testing.TB) clock.Clock {
	return clock.NewFixed(time.Date(2026, time.October, 18, 18, 0, 0, 0, london(t)))
}

func testRenderer(calc *calendar.Calculator) *messages.Renderer {
	return messages.NewRenderer(messages.Event{
		Name:        "Chamber music",
		Host:        "Tom",
		RegisterURL: "https://palqo.example/",
	}, calc, language.BritishEnglish)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
