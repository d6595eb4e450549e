package tenure

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. The single
// mutex serializes all writers, which also gives promotion its atomicity.
type InMemory struct {
	mu sync.RWMutex

	groups      map[int64]*Group
	nextGroupID int64

	futures       map[string]*FutureTenure // by hash id
	futureByGroup map[int64]string

	watches     map[int64]*Watch
	watchIndex  map[string]map[string]int64 // tenure hash -> user -> watch id
	nextWatchID int64

	lives       map[int64]*LiveTenure
	liveByGroup map[int64]int64
	nextLiveID  int64

	subs      map[int64]*LiveSubscription
	nextSubID int64

	contribs []Contribution

	histTenures   map[int64]*HistoricalTenure
	histSubs      map[int64]*HistoricalSubscription
	nextHistID    int64
	nextHistSubID int64
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates a fresh store.
func NewInMemory() *InMemory {
	return &InMemory{
		groups:        make(map[int64]*Group),
		futures:       make(map[string]*FutureTenure),
		futureByGroup: make(map[int64]string),
		watches:       make(map[int64]*Watch),
		watchIndex:    make(map[string]map[string]int64),
		lives:         make(map[int64]*LiveTenure),
		liveByGroup:   make(map[int64]int64),
		subs:          make(map[int64]*LiveSubscription),
		histTenures:   make(map[int64]*HistoricalTenure),
		histSubs:      make(map[int64]*HistoricalSubscription),
	}
}

func (s *InMemory) CreateGroup(ctx context.Context, name, adminID string, encode func(int64) (string, error)) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGroupID++
	id := s.nextGroupID
	hash, err := encode(id)
	if err != nil {
		s.nextGroupID--
		return Group{}, err
	}
	now := time.Now().UTC()
	g := &Group{
		ID:        id,
		HashID:    hash,
		Name:      name,
		AdminID:   adminID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.groups[id] = g
	return *g, nil
}

func (s *InMemory) GetGroup(ctx context.Context, id int64) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok || g.Deleted() {
		return Group{}, ErrNotFound
	}
	return *g, nil
}

func (s *InMemory) GetGroupByHashID(ctx context.Context, hashID string, includeDeleted bool) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.HashID != hashID {
			continue
		}
		if g.Deleted() && !includeDeleted {
			return Group{}, ErrNotFound
		}
		return *g, nil
	}
	return Group{}, ErrNotFound
}

func (s *InMemory) ListGroups(ctx context.Context, includeDeleted bool) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Group
	for _, g := range s.groups {
		if g.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) SoftDeleteGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.Deleted() {
		return ErrNotFound
	}
	now := time.Now().UTC()
	g.DeletedAt = &now
	g.UpdatedAt = now
	return nil
}

func (s *InMemory) UndeleteGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || !g.Deleted() {
		return ErrNotFound
	}
	g.DeletedAt = nil
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) HardDeleteGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return ErrNotFound
	}
	if ltID, ok := s.liveByGroup[id]; ok {
		for _, sub := range s.subs {
			if sub.TenureID == ltID {
				return ErrConflict
			}
		}
		for _, c := range s.contribs {
			if c.TenureID == ltID {
				return ErrConflict
			}
		}
		delete(s.lives, ltID)
		delete(s.liveByGroup, id)
	}
	if hash, ok := s.futureByGroup[id]; ok {
		s.deleteFutureLocked(hash)
	}
	delete(s.groups, g.ID)
	return nil
}

func (s *InMemory) CreateFutureTenure(ctx context.Context, ft *FutureTenure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[ft.GroupID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.futureByGroup[ft.GroupID]; ok {
		return ErrConflict
	}
	if _, ok := s.futures[ft.HashID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	ft.CreatedAt = now
	ft.UpdatedAt = now
	cp := *ft
	s.futures[ft.HashID] = &cp
	s.futureByGroup[ft.GroupID] = ft.HashID
	return nil
}

func (s *InMemory) FutureTenure(ctx context.Context, hashID string) (FutureTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ft, ok := s.futures[hashID]
	if !ok {
		return FutureTenure{}, ErrNotFound
	}
	return *ft, nil
}

func (s *InMemory) FutureTenureByGroup(ctx context.Context, groupID int64) (FutureTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.futureByGroup[groupID]
	if !ok {
		return FutureTenure{}, ErrNotFound
	}
	return *s.futures[hash], nil
}

func (s *InMemory) UpdateFutureTenure(ctx context.Context, ft FutureTenure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.futures[ft.HashID]
	if !ok {
		return ErrNotFound
	}
	cur.Amount = ft.Amount
	cur.WillGoLiveAt = ft.WillGoLiveAt
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) DeleteFutureTenure(ctx context.Context, hashID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.futures[hashID]; !ok {
		return ErrNotFound
	}
	s.deleteFutureLocked(hashID)
	return nil
}

// deleteFutureLocked removes the future tenure and its watches. Caller holds mu.
func (s *InMemory) deleteFutureLocked(hashID string) {
	ft := s.futures[hashID]
	for id, w := range s.watches {
		if w.TenureID == hashID {
			delete(s.watches, id)
		}
	}
	delete(s.watchIndex, hashID)
	delete(s.futureByGroup, ft.GroupID)
	delete(s.futures, hashID)
}

func (s *InMemory) MaturedFutureTenures(ctx context.Context, asOf time.Time) ([]FutureTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FutureTenure
	for _, ft := range s.futures {
		if !ft.WillGoLiveAt.After(asOf) {
			out = append(out, *ft)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WillGoLiveAt.Before(out[j].WillGoLiveAt) })
	return out, nil
}

func (s *InMemory) CreateWatch(ctx context.Context, w *Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.futures[w.TenureID]; !ok {
		return ErrNotFound
	}
	byUser := s.watchIndex[w.TenureID]
	if byUser == nil {
		byUser = make(map[string]int64)
		s.watchIndex[w.TenureID] = byUser
	}
	if _, ok := byUser[w.UserID]; ok {
		return ErrConflict
	}
	s.nextWatchID++
	w.ID = s.nextWatchID
	w.CreatedAt = time.Now().UTC()
	cp := *w
	s.watches[w.ID] = &cp
	byUser[w.UserID] = w.ID
	return nil
}

func (s *InMemory) GetWatch(ctx context.Context, id int64) (Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.watches[id]
	if !ok {
		return Watch{}, ErrNotFound
	}
	return *w, nil
}

func (s *InMemory) WatchesByTenure(ctx context.Context, tenureID string) ([]Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Watch
	for _, w := range s.watches {
		if w.TenureID == tenureID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateWatchStatus(ctx context.Context, id int64, status WatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	return nil
}

func (s *InMemory) ResetWatches(ctx context.Context, tenureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watches {
		if w.TenureID == tenureID {
			w.Status = ToReviewUpdate
		}
	}
	return nil
}

func (s *InMemory) DeleteWatch(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return ErrNotFound
	}
	if byUser := s.watchIndex[w.TenureID]; byUser != nil {
		delete(byUser, w.UserID)
	}
	delete(s.watches, id)
	return nil
}

func (s *InMemory) PromoteFutureTenure(ctx context.Context, ftHashID string, lt *LiveTenure, subs []LiveSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ft, ok := s.futures[ftHashID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.liveByGroup[ft.GroupID]; ok {
		return ErrConflict
	}

	s.nextLiveID++
	lt.ID = s.nextLiveID
	cp := *lt
	s.lives[lt.ID] = &cp
	s.liveByGroup[lt.GroupID] = lt.ID

	for i := range subs {
		s.nextSubID++
		subs[i].ID = s.nextSubID
		subs[i].TenureID = lt.ID
		subs[i].CreatedAt = time.Now().UTC()
		sub := subs[i]
		s.subs[sub.ID] = &sub
	}

	s.deleteFutureLocked(ftHashID)
	return nil
}

func (s *InMemory) LiveTenure(ctx context.Context, id int64) (LiveTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.lives[id]
	if !ok {
		return LiveTenure{}, ErrNotFound
	}
	return *lt, nil
}

func (s *InMemory) LiveTenureByGroup(ctx context.Context, groupID int64) (LiveTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.liveByGroup[groupID]
	if !ok {
		return LiveTenure{}, ErrNotFound
	}
	return *s.lives[id], nil
}

func (s *InMemory) SubscriptionsByTenure(ctx context.Context, tenureID int64) ([]LiveSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LiveSubscription
	for _, sub := range s.subs {
		if sub.TenureID == tenureID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) DueSubscriptions(ctx context.Context, day time.Time) ([]LiveSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LiveSubscription
	for _, sub := range s.subs {
		if SameDay(sub.NextChargeAt, day) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) RecordContribution(ctx context.Context, c Contribution, subID int64, nextChargeAt, payDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subID]
	if !ok {
		return ErrNotFound
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contribs = append(s.contribs, c)
	sub.NextChargeAt = nextChargeAt
	sub.PayDate = payDate
	return nil
}

func (s *InMemory) ContributionsByTenure(ctx context.Context, tenureID int64) ([]Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Contribution
	for _, c := range s.contribs {
		if c.TenureID == tenureID {
			out = append(out, c)
		}
	}
	// appended in creation order; most recent first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *InMemory) CreateHistoricalTenure(ctx context.Context, ht *HistoricalTenure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHistID++
	ht.ID = s.nextHistID
	cp := *ht
	s.histTenures[ht.ID] = &cp
	return nil
}

func (s *InMemory) CreateHistoricalSubscription(ctx context.Context, hs *HistoricalSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histTenures[hs.TenureID]; !ok {
		return ErrNotFound
	}
	s.nextHistSubID++
	hs.ID = s.nextHistSubID
	cp := *hs
	s.histSubs[hs.ID] = &cp
	return nil
}

func (s *InMemory) HistoricalTenuresByGroup(ctx context.Context, groupID int64) ([]HistoricalTenure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []HistoricalTenure
	for _, ht := range s.histTenures {
		if ht.GroupID == groupID {
			out = append(out, *ht)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DissolvedAt.After(out[j].DissolvedAt) })
	return out, nil
}
