package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/velto/linkpage/internal/models"
)

// MemoryStore keeps everything in process memory. It is not durable and
// resets on restart; it backs tests and DB-less development. All mutation
// happens under the lock, which gives it the same atomic-increment
// semantics the Postgres upserts provide.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	links    map[string]*models.Link
	variants map[string]*models.LinkVariant
	clicks   []*models.LinkClick

	// Rollups keyed by "<id>|<YYYY-MM-DD>".
	clickDaily map[string]*models.LinkClickDaily
	viewDaily  map[string]*models.ProfileView

	// Index for stable variant ordering per link (creation order).
	variantsByLink map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]*models.User),
		links:          make(map[string]*models.Link),
		variants:       make(map[string]*models.LinkVariant),
		clickDaily:     make(map[string]*models.LinkClickDaily),
		viewDaily:      make(map[string]*models.ProfileView),
		variantsByLink: make(map[string][]string),
	}
}

func dayKey(id string, day time.Time) string {
	return id + "|" + day.UTC().Format("2006-01-02")
}

// =============================================
// Users
// =============================================

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// =============================================
// Links
// =============================================

func (s *MemoryStore) GetLink(ctx context.Context, id string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Link, 0)
	for _, l := range s.links {
		if l.UserID == userID {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SortOrder < result[j].SortOrder
	})
	return result, nil
}

func (s *MemoryStore) UpsertLink(ctx context.Context, l *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *l
	s.links[l.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteLink(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[id]; !ok {
		return ErrNotFound
	}
	delete(s.links, id)

	// Variants go with the link; historical clicks and rollups stay.
	for _, vid := range s.variantsByLink[id] {
		delete(s.variants, vid)
	}
	delete(s.variantsByLink, id)
	return nil
}

func (s *MemoryStore) SetABTesting(ctx context.Context, linkID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[linkID]
	if !ok {
		return ErrNotFound
	}
	l.ABTestingEnabled = enabled
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================
// Variants
// =============================================

func (s *MemoryStore) GetVariant(ctx context.Context, id string) (*models.LinkVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListVariants(ctx context.Context, linkID string) ([]*models.LinkVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.variantsByLink[linkID]
	result := make([]*models.LinkVariant, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			cp := *v
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertVariant(ctx context.Context, v *models.LinkVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.variants[v.ID]; !exists {
		s.variantsByLink[v.LinkID] = append(s.variantsByLink[v.LinkID], v.ID)
	}
	cp := *v
	s.variants[v.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteVariant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.variants, id)

	ids := s.variantsByLink[v.LinkID]
	next := make([]string, 0, len(ids))
	for _, vid := range ids {
		if vid != id {
			next = append(next, vid)
		}
	}
	s.variantsByLink[v.LinkID] = next
	return nil
}

func (s *MemoryStore) IncrementImpressions(ctx context.Context, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok {
		return ErrNotFound
	}
	v.Impressions++
	return nil
}

func (s *MemoryStore) IncrementClicks(ctx context.Context, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok {
		return ErrNotFound
	}
	v.Clicks++
	return nil
}

// =============================================
// Raw events
// =============================================

func (s *MemoryStore) SaveClick(ctx context.Context, click *models.LinkClick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *click
	s.clicks = append(s.clicks, &cp)
	return nil
}

func (s *MemoryStore) DeviceBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(userID, since, func(c *models.LinkClick) string { return c.DeviceType })
}

func (s *MemoryStore) BrowserBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(userID, since, func(c *models.LinkClick) string { return c.Browser })
}

func (s *MemoryStore) breakdown(userID string, since time.Time, label func(*models.LinkClick) string) ([]LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.clicks {
		if c.UserID == userID && !c.Timestamp.Before(since) {
			counts[label(c)]++
		}
	}

	result := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		result = append(result, LabelCount{Label: l, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Label < result[j].Label
	})
	return result, nil
}

// ClickCount returns the number of raw click rows held. Test helper.
func (s *MemoryStore) ClickCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clicks)
}

// =============================================
// Rollups
// =============================================

func (s *MemoryStore) IncrementLinkClicks(ctx context.Context, linkID, userID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(linkID, day)
	row, ok := s.clickDaily[key]
	if !ok {
		s.clickDaily[key] = &models.LinkClickDaily{
			LinkID:       linkID,
			UserID:       userID,
			Day:          models.Day(day),
			TotalClicks:  1,
			UniqueClicks: 1,
		}
		return nil
	}
	row.TotalClicks++
	return nil
}

func (s *MemoryStore) IncrementProfileViews(ctx context.Context, userID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(userID, day)
	row, ok := s.viewDaily[key]
	if !ok {
		s.viewDaily[key] = &models.ProfileView{
			UserID:      userID,
			Day:         models.Day(day),
			TotalViews:  1,
			UniqueViews: 1,
		}
		return nil
	}
	row.TotalViews++
	return nil
}

func (s *MemoryStore) ClickSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]DayCount, 0)
	for _, row := range s.clickDaily {
		if row.UserID == userID && inWindow(row.Day, from, to) {
			result = append(result, DayCount{Day: row.Day, Count: row.TotalClicks})
		}
	}
	return result, nil
}

func (s *MemoryStore) ViewSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]DayCount, 0)
	for _, row := range s.viewDaily {
		if row.UserID == userID && inWindow(row.Day, from, to) {
			result = append(result, DayCount{Day: row.Day, Count: row.TotalViews})
		}
	}
	return result, nil
}

func (s *MemoryStore) ClicksByLink(ctx context.Context, userID string, from, to time.Time) ([]LinkTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, row := range s.clickDaily {
		if row.UserID == userID && inWindow(row.Day, from, to) {
			totals[row.LinkID] += row.TotalClicks
		}
	}

	result := make([]LinkTotal, 0, len(totals))
	for id, n := range totals {
		result = append(result, LinkTotal{LinkID: id, Clicks: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Clicks != result[j].Clicks {
			return result[i].Clicks > result[j].Clicks
		}
		return result[i].LinkID < result[j].LinkID
	})
	return result, nil
}

// GetLinkClickDaily returns the rollup row for (linkID, day), or ErrNotFound.
// Test helper.
func (s *MemoryStore) GetLinkClickDaily(linkID string, day time.Time) (*models.LinkClickDaily, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.clickDaily[dayKey(linkID, day)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func inWindow(day, from, to time.Time) bool {
	return !day.Before(from) && !day.After(to)
}
