package reminder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/verdant/internal/db"
	"github.com/lalithlochan/verdant/internal/expo"
	"github.com/lalithlochan/verdant/internal/metrics"
)

// DueGroup is one user's share of a run: the destinations to notify and the
// due plants to mention, in due order.
type DueGroup struct {
	User         *db.User
	Destinations []string
	Plants       []*db.Plant
}

// Grouper turns due plants into per-user groups.
type Grouper struct {
	users       UserGetter
	concurrency int
	logger      *zap.Logger
}

// NewGrouper creates a grouper that resolves at most concurrency users at once.
func NewGrouper(users UserGetter, concurrency int, logger *zap.Logger) *Grouper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Grouper{users: users, concurrency: concurrency, logger: logger}
}

// Group returns one group per user that has at least one valid destination and
// at least one plant not already notified today. Groups are ordered by the
// first appearance of their user in plants. Each user is looked up once.
func (g *Grouper) Group(ctx context.Context, plants []*db.Plant, now time.Time) []*DueGroup {
	var (
		order  []string
		byUser = make(map[string][]*db.Plant)
	)
	for _, p := range plants {
		if p.LastNotifiedAt != nil && SameCalendarDay(p.LastNotifiedAt.In(now.Location()), now) {
			continue
		}
		if _, seen := byUser[p.UserID]; !seen {
			order = append(order, p.UserID)
		}
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	users := g.resolveUsers(ctx, order)

	groups := make([]*DueGroup, 0, len(order))
	for _, userID := range order {
		user, ok := users[userID]
		if !ok {
			continue
		}
		destinations := validDestinations(user)
		if len(destinations) == 0 {
			continue
		}
		groups = append(groups, &DueGroup{
			User:         user,
			Destinations: destinations,
			Plants:       byUser[userID],
		})
	}

	return groups
}

// resolveUsers fetches every user concurrently. A failed lookup is logged and
// the user is left out of the result.
func (g *Grouper) resolveUsers(ctx context.Context, ids []string) map[string]*db.User {
	var mu sync.Mutex
	users := make(map[string]*db.User, len(ids))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	for _, id := range ids {
		eg.Go(func() error {
			user, err := g.users.GetUser(egCtx, id)
			if err != nil {
				g.logger.Warn("failed to resolve user, skipping their plants",
					zap.String("user_id", id),
					zap.Error(err),
				)
				metrics.RecordStageFailure(string(StageGrouping))
				// Lookups are independent; never cancel the others.
				return nil
			}
			mu.Lock()
			users[id] = user
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return users
}

// validDestinations keeps the user's destinations that look like push tokens.
func validDestinations(user *db.User) []string {
	var out []string
	for _, token := range user.Destinations() {
		if expo.IsPushToken(token) {
			out = append(out, token)
		}
	}
	return out
}

// SameCalendarDay reports whether a and b fall on the same date, each read in
// its own location.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
