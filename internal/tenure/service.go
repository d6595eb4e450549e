package tenure

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"esusu.org/internal/ids"
	"esusu.org/internal/obs"
	"esusu.org/internal/payments"
)

const (
	// defaultLeadTime is how far ahead a future tenure activates when the
	// admin names no time.
	defaultLeadTime = 14 * 24 * time.Hour

	// minLeadTime is the activation floor: watchers always get at least
	// 48 hours to review before a tenure goes live.
	minLeadTime = 2 * 24 * time.Hour

	// chargePeriod is the fixed interval between contribution charges.
	chargePeriod = 7 * 24 * time.Hour

	// payoutPeriodDays staggers subscriber pay dates at promotion and
	// advances them on each successful collection.
	payoutPeriodDays = 30

	defaultWorkers       = 8
	defaultChargeTimeout = 10 * time.Second
)

// Service runs the tenure lifecycle on top of a Store, a public-id codec and
// a payment gateway.
type Service struct {
	store   Store
	codec   *ids.Codec
	gateway payments.Gateway
	log     *slog.Logger

	now func() time.Time

	randMu sync.Mutex
	rand   *mathrand.Rand

	workers       int
	chargeTimeout time.Duration
	limiter       *rate.Limiter
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRand overrides the shuffle source so promotion order is reproducible
// in tests. The default is seeded from the wall clock.
func WithRand(r *mathrand.Rand) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithWorkers bounds the collection engine's concurrent gateway calls.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithChargeTimeout caps each gateway charge; a stuck gateway must not stall
// the batch. Timed-out charges count as failures.
func WithChargeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.chargeTimeout = d
		}
	}
}

// WithChargeRateLimit caps the gateway call rate across the batch.
func WithChargeRateLimit(perSecond, burst int) ServiceOption {
	return func(s *Service) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, codec *ids.Codec, gateway payments.Gateway, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		codec:         codec,
		gateway:       gateway,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		rand:          mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		workers:       defaultWorkers,
		chargeTimeout: defaultChargeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- groups ---

// CreateGroup creates a group administered by adminID and assigns its
// public hash id.
func (s *Service) CreateGroup(ctx context.Context, name, adminID string) (Group, error) {
	if name == "" {
		return Group{}, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if adminID == "" {
		return Group{}, fmt.Errorf("%w: group admin is required", ErrValidation)
	}
	g, err := s.store.CreateGroup(ctx, name, adminID, s.codec.Encode)
	if err != nil {
		return Group{}, err
	}
	s.log.Info("group created", "group", g.HashID, "admin", g.AdminID)
	return g, nil
}

// GetGroup resolves a group by public id.
func (s *Service) GetGroup(ctx context.Context, hashID string, includeDeleted bool) (Group, error) {
	return s.store.GetGroupByHashID(ctx, hashID, includeDeleted)
}

// ListGroups returns groups, most recent first.
func (s *Service) ListGroups(ctx context.Context, includeDeleted bool) ([]Group, error) {
	return s.store.ListGroups(ctx, includeDeleted)
}

// DeleteGroup soft-deletes by default. hard permanently removes the group
// and its future tenure; it is rejected with ErrConflict while live
// subscriptions or contributions reference the group's live tenure.
func (s *Service) DeleteGroup(ctx context.Context, hashID string, hard bool) error {
	g, err := s.store.GetGroupByHashID(ctx, hashID, hard)
	if err != nil {
		return err
	}
	if hard {
		return s.store.HardDeleteGroup(ctx, g.ID)
	}
	return s.store.SoftDeleteGroup(ctx, g.ID)
}

// UndeleteGroup restores a soft-deleted group.
func (s *Service) UndeleteGroup(ctx context.Context, hashID string) error {
	g, err := s.store.GetGroupByHashID(ctx, hashID, true)
	if err != nil {
		return err
	}
	return s.store.UndeleteGroup(ctx, g.ID)
}

// HasMember reports whether user belongs to the group: its admin, a watcher
// on its future tenure, or a subscriber on its live tenure.
func (s *Service) HasMember(ctx context.Context, g Group, userID string) (bool, error) {
	if g.AdminID == userID {
		return true, nil
	}
	if ft, err := s.store.FutureTenureByGroup(ctx, g.ID); err == nil {
		watches, err := s.store.WatchesByTenure(ctx, ft.HashID)
		if err != nil {
			return false, err
		}
		for _, w := range watches {
			if w.UserID == userID {
				return true, nil
			}
		}
	}
	if lt, err := s.store.LiveTenureByGroup(ctx, g.ID); err == nil {
		subs, err := s.store.SubscriptionsByTenure(ctx, lt.ID)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			if sub.UserID == userID {
				return true, nil
			}
		}
	}
	return false, nil
}

// --- future tenures ---

// resolveActivation clamps a requested activation time: never less than
// now+48h, defaulting to now+14d. Computed at submit time.
func (s *Service) resolveActivation(requested *time.Time, now time.Time) time.Time {
	goLive := now.Add(defaultLeadTime)
	if requested != nil {
		goLive = *requested
	}
	if floor := now.Add(minLeadTime); goLive.Before(floor) {
		goLive = floor
	}
	return goLive
}

// CreateFutureTenure pledges a per-period amount on the group. ErrConflict
// if the group already has a future tenure.
func (s *Service) CreateFutureTenure(ctx context.Context, groupHashID string, amount int64, requested *time.Time) (FutureTenure, error) {
	if amount <= 0 {
		return FutureTenure{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return FutureTenure{}, err
	}
	ft := FutureTenure{
		HashID:       g.HashID,
		GroupID:      g.ID,
		Amount:       amount,
		WillGoLiveAt: s.resolveActivation(requested, s.now()),
	}
	if err := s.store.CreateFutureTenure(ctx, &ft); err != nil {
		return FutureTenure{}, err
	}
	s.log.Info("future tenure created", "group", g.HashID, "amount", amount, "will_go_live_at", ft.WillGoLiveAt)
	return ft, nil
}

// UpdateFutureTenure rewrites the pledge. Every watch on the tenure is reset
// to ToReviewUpdate so watchers can review the change, and the activation
// clamp gives them at least 48 hours to do it.
func (s *Service) UpdateFutureTenure(ctx context.Context, groupHashID string, amount *int64, requested *time.Time) (FutureTenure, error) {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return FutureTenure{}, err
	}
	ft, err := s.store.FutureTenureByGroup(ctx, g.ID)
	if err != nil {
		return FutureTenure{}, err
	}
	if amount != nil {
		if *amount <= 0 {
			return FutureTenure{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
		}
		ft.Amount = *amount
	}
	cur := ft.WillGoLiveAt
	if requested == nil {
		requested = &cur
	}
	ft.WillGoLiveAt = s.resolveActivation(requested, s.now())
	if err := s.store.UpdateFutureTenure(ctx, ft); err != nil {
		return FutureTenure{}, err
	}
	if err := s.store.ResetWatches(ctx, ft.HashID); err != nil {
		return FutureTenure{}, err
	}
	s.log.Info("future tenure updated", "group", g.HashID, "amount", ft.Amount, "will_go_live_at", ft.WillGoLiveAt)
	return ft, nil
}

// DeleteFutureTenure hard-deletes the group's future tenure and all its
// watches. Not reversible.
func (s *Service) DeleteFutureTenure(ctx context.Context, groupHashID string) error {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return err
	}
	ft, err := s.store.FutureTenureByGroup(ctx, g.ID)
	if err != nil {
		return err
	}
	return s.store.DeleteFutureTenure(ctx, ft.HashID)
}

// FutureTenureByGroup returns the group's future tenure.
func (s *Service) FutureTenureByGroup(ctx context.Context, groupHashID string) (FutureTenure, error) {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return FutureTenure{}, err
	}
	return s.store.FutureTenureByGroup(ctx, g.ID)
}

// --- watches ---

// WatchGroup registers user as a watcher of the group's future tenure.
// ErrNotFound if the group has no future tenure; ErrConflict if the user
// already watches it. Initial status is JustWatching.
func (s *Service) WatchGroup(ctx context.Context, groupHashID, userID string) (Watch, error) {
	if userID == "" {
		return Watch{}, fmt.Errorf("%w: user is required", ErrValidation)
	}
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return Watch{}, err
	}
	ft, err := s.store.FutureTenureByGroup(ctx, g.ID)
	if err != nil {
		return Watch{}, err
	}
	w := Watch{TenureID: ft.HashID, UserID: userID, Status: JustWatching}
	if err := s.store.CreateWatch(ctx, &w); err != nil {
		return Watch{}, err
	}
	return w, nil
}

// GetWatch returns a watch by id.
func (s *Service) GetWatch(ctx context.Context, id int64) (Watch, error) {
	return s.store.GetWatch(ctx, id)
}

// SetOptIn flips a watch between OptedIn and JustWatching.
func (s *Service) SetOptIn(ctx context.Context, watchID int64, optIn bool) (Watch, error) {
	w, err := s.store.GetWatch(ctx, watchID)
	if err != nil {
		return Watch{}, err
	}
	status := JustWatching
	if optIn {
		status = OptedIn
	}
	if err := s.store.UpdateWatchStatus(ctx, w.ID, status); err != nil {
		return Watch{}, err
	}
	w.Status = status
	return w, nil
}

// DeleteWatch hard-deletes a watch. Irreversible.
func (s *Service) DeleteWatch(ctx context.Context, watchID int64) error {
	return s.store.DeleteWatch(ctx, watchID)
}

// ListWatches returns every watch on the group's future tenure.
func (s *Service) ListWatches(ctx context.Context, groupHashID string) ([]Watch, error) {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return nil, err
	}
	ft, err := s.store.FutureTenureByGroup(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return s.store.WatchesByTenure(ctx, ft.HashID)
}

// --- promotion ---

// Promote converts a matured future tenure into a live tenure: opted-in
// watchers become subscribers in uniformly random order (payout order must
// not reward insertion order), pay dates are staggered one payout period
// apart, and the future tenure and all its watches are destroyed. The store
// commits all of it atomically; calling again after success fails with
// ErrNotFound since the tenure no longer exists.
func (s *Service) Promote(ctx context.Context, ftHashID string) (LiveTenure, error) {
	ft, err := s.store.FutureTenure(ctx, ftHashID)
	if err != nil {
		return LiveTenure{}, err
	}
	watches, err := s.store.WatchesByTenure(ctx, ft.HashID)
	if err != nil {
		return LiveTenure{}, err
	}

	var optedIn []Watch
	for _, w := range watches {
		if w.Status == OptedIn {
			optedIn = append(optedIn, w)
		}
	}
	s.shuffleWatches(optedIn)

	now := s.now()
	today := now.Truncate(24 * time.Hour)
	lt := LiveTenure{
		GroupID:         ft.GroupID,
		Amount:          ft.Amount,
		LiveAt:          now,
		PreviousPayDate: today,
		NextPayDate:     today.AddDate(0, 0, payoutPeriodDays),
	}

	subs := make([]LiveSubscription, 0, len(optedIn))
	cursor := today
	for _, w := range optedIn {
		cursor = cursor.AddDate(0, 0, payoutPeriodDays)
		subs = append(subs, LiveSubscription{
			UserID:       w.UserID,
			NextChargeAt: now.Add(chargePeriod),
			PayDate:      cursor,
		})
	}

	if err := s.store.PromoteFutureTenure(ctx, ft.HashID, &lt, subs); err != nil {
		return LiveTenure{}, err
	}
	obs.PromotionsTotal.Inc()
	s.log.Info("future tenure promoted", "tenure", ft.HashID, "subscribers", len(subs), "amount", lt.Amount)
	return lt, nil
}

// shuffleWatches applies a uniform Fisher-Yates permutation.
func (s *Service) shuffleWatches(ws []Watch) {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	s.rand.Shuffle(len(ws), func(i, j int) { ws[i], ws[j] = ws[j], ws[i] })
}

// PromoteMatured promotes every future tenure whose activation time has
// passed. A failed promotion does not stop the rest; failures are reported
// for operator visibility and retried on the next invocation.
func (s *Service) PromoteMatured(ctx context.Context) (int, error) {
	matured, err := s.store.MaturedFutureTenures(ctx, s.now())
	if err != nil {
		return 0, err
	}
	var promoted int
	var errs error
	for _, ft := range matured {
		if _, err := s.Promote(ctx, ft.HashID); err != nil {
			s.log.Error("promotion failed", "tenure", ft.HashID, "error", err)
			errs = appendErr(errs, fmt.Errorf("promote %s: %w", ft.HashID, err))
			continue
		}
		promoted++
	}
	return promoted, errs
}

// --- reads used by the outer layers ---

// LiveTenureByGroup returns the group's live tenure.
func (s *Service) LiveTenureByGroup(ctx context.Context, groupHashID string) (LiveTenure, error) {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return LiveTenure{}, err
	}
	return s.store.LiveTenureByGroup(ctx, g.ID)
}

// Subscriptions returns the live tenure's subscriptions in creation order.
func (s *Service) Subscriptions(ctx context.Context, groupHashID string) ([]LiveSubscription, error) {
	lt, err := s.LiveTenureByGroup(ctx, groupHashID)
	if err != nil {
		return nil, err
	}
	return s.store.SubscriptionsByTenure(ctx, lt.ID)
}

// Contributions returns receipts on the group's live tenure.
func (s *Service) Contributions(ctx context.Context, groupHashID string) ([]Contribution, error) {
	lt, err := s.LiveTenureByGroup(ctx, groupHashID)
	if err != nil {
		return nil, err
	}
	return s.store.ContributionsByTenure(ctx, lt.ID)
}

// HistoricalTenures lists the group's archived tenures.
func (s *Service) HistoricalTenures(ctx context.Context, groupHashID string) ([]HistoricalTenure, error) {
	g, err := s.store.GetGroupByHashID(ctx, groupHashID, false)
	if err != nil {
		return nil, err
	}
	return s.store.HistoricalTenuresByGroup(ctx, g.ID)
}
