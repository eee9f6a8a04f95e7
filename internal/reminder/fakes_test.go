package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lalithlochan/verdant/internal/db"
	"github.com/lalithlochan/verdant/internal/expo"
)

func ptr[T any](v T) *T { return &v }

func token(name string) string { return "ExponentPushToken[" + name + "]" }

type scheduleWrite struct {
	notifiedAt time.Time
	nextDueAt  time.Time
}

// memStore is an in-memory Store.
type memStore struct {
	mu sync.Mutex

	plants []*db.Plant
	users  map[string]*db.User

	listErr  error
	userErr  map[string]error
	writeErr map[string]error

	listCalls int
	userCalls map[string]int
	removals  []removal
	writes    map[string]scheduleWrite
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*db.User),
		userErr:   make(map[string]error),
		writeErr:  make(map[string]error),
		userCalls: make(map[string]int),
		writes:    make(map[string]scheduleWrite),
	}
}

func (s *memStore) addUser(id string, tokens ...string) *db.User {
	u := &db.User{ID: id, PushTokens: tokens}
	s.users[id] = u
	return u
}

func (s *memStore) addPlant(p *db.Plant) *db.Plant {
	s.plants = append(s.plants, p)
	return p
}

func (s *memStore) ListDuePlants(_ context.Context, now time.Time, limit int) ([]*db.Plant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	var due []*db.Plant
	for _, p := range s.plants {
		if p.NextDueAt != nil && !p.NextDueAt.After(now) {
			cp := *p
			due = append(due, &cp)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextDueAt.Before(*due[j].NextDueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCalls[id]++
	if err := s.userErr[id]; err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *u
	cp.PushTokens = slices.Clone(u.PushTokens)
	return &cp, nil
}

// RemovePushToken and UpdatePlantSchedule fail on a done context the way a
// pgx query does.
func (s *memStore) RemovePushToken(ctx context.Context, userID, tok string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return db.ErrNotFound
	}
	s.removals = append(s.removals, removal{userID: userID, token: tok})
	u.PushTokens = slices.DeleteFunc(u.PushTokens, func(t string) bool { return t == tok })
	if u.PushToken != nil && *u.PushToken == tok {
		u.PushToken = nil
	}
	return nil
}

func (s *memStore) UpdatePlantSchedule(ctx context.Context, userID, plantID string, notifiedAt, nextDueAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr[plantID]; err != nil {
		return err
	}
	for _, p := range s.plants {
		if p.UserID == userID && p.ID == plantID {
			p.LastNotifiedAt = ptr(notifiedAt)
			p.NextDueAt = ptr(nextDueAt)
			s.writes[plantID] = scheduleWrite{notifiedAt: notifiedAt, nextDueAt: nextDueAt}
			return nil
		}
	}
	return db.ErrNotFound
}

// fakeProvider is an in-memory PushProvider. Ticket and receipt outcomes are
// configured per destination.
type fakeProvider struct {
	mu sync.Mutex

	chunkSize  int
	failChunks map[int]bool

	ticketErrors  map[string]string
	receiptErrors map[string]string
	receiptErr    error

	sendCalls  int
	sent       []expo.Message
	fetchCalls int
	nextID     int
	idDest     map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		chunkSize:     expo.MaxMessagesPerChunk,
		failChunks:    make(map[int]bool),
		ticketErrors:  make(map[string]string),
		receiptErrors: make(map[string]string),
		idDest:        make(map[string]string),
	}
}

func chunkOf[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

func (f *fakeProvider) ChunkMessages(messages []expo.Message) [][]expo.Message {
	return chunkOf(messages, f.chunkSize)
}

func (f *fakeProvider) ChunkReceiptIDs(ids []string) [][]string {
	return chunkOf(ids, expo.MaxReceiptIDsPerChunk)
}

func (f *fakeProvider) Send(_ context.Context, messages []expo.Message) ([]expo.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.sendCalls
	f.sendCalls++
	if f.failChunks[idx] {
		return nil, errors.New("push service unavailable")
	}

	f.sent = append(f.sent, messages...)
	tickets := make([]expo.Ticket, len(messages))
	for i, m := range messages {
		if reason, ok := f.ticketErrors[m.To]; ok {
			tickets[i] = expo.Ticket{Status: expo.StatusError, Message: reason, Details: &expo.ErrorDetails{Error: reason}}
			continue
		}
		f.nextID++
		id := fmt.Sprintf("ticket-%d", f.nextID)
		f.idDest[id] = m.To
		tickets[i] = expo.Ticket{Status: expo.StatusOK, ID: id}
	}
	return tickets, nil
}

func (f *fakeProvider) FetchReceipts(_ context.Context, ids []string) (map[string]expo.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	out := make(map[string]expo.Receipt, len(ids))
	for _, id := range ids {
		dest := f.idDest[id]
		if reason, ok := f.receiptErrors[dest]; ok {
			out[id] = expo.Receipt{Status: expo.StatusError, Message: reason, Details: &expo.ErrorDetails{Error: reason}}
			continue
		}
		out[id] = expo.Receipt{Status: expo.StatusOK}
	}
	return out, nil
}

func (f *fakeProvider) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.To
	}
	return out
}

type fakeLocker struct {
	held       bool
	err        error
	acquired   int
	released   []string
	lastTTL    time.Duration
	lastName   string
	tokenValue string
}

func (l *fakeLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.lastName = name
	l.lastTTL = ttl
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.acquired++
	l.tokenValue = "lease-token"
	return l.tokenValue, true, nil
}

func (l *fakeLocker) Release(_ context.Context, name, tok string) error {
	l.released = append(l.released, name+"/"+tok)
	return nil
}
