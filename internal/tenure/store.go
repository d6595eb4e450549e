package tenure

import (
	"context"
	"time"
)

// Store persists the tenure lifecycle. This abstraction allows swapping
// storage backends (in-memory, Postgres) without changing the engine.
//
// Writers on the same group must be mutually excluded by the backend: the
// in-memory store holds a lock, the Postgres store relies on unique
// constraints and transaction isolation. Concurrent duplicate writes fail
// with ErrConflict rather than overwriting.
type Store interface {
	// CreateGroup persists a new group, assigning its ID, then derives and
	// stores the public hash id via encode in the same atomic step.
	CreateGroup(ctx context.Context, name, adminID string, encode func(int64) (string, error)) (Group, error)

	// GetGroup returns an active (not soft-deleted) group.
	GetGroup(ctx context.Context, id int64) (Group, error)

	// GetGroupByHashID resolves a group by public id. includeDeleted widens
	// the lookup to soft-deleted rows.
	GetGroupByHashID(ctx context.Context, hashID string, includeDeleted bool) (Group, error)

	// ListGroups returns groups, most recent first.
	ListGroups(ctx context.Context, includeDeleted bool) ([]Group, error)

	// SoftDeleteGroup hides the group; UndeleteGroup reverses it.
	SoftDeleteGroup(ctx context.Context, id int64) error
	UndeleteGroup(ctx context.Context, id int64) error

	// HardDeleteGroup permanently removes the group, cascading to its
	// future tenure and watches. Fails with ErrConflict while a live tenure
	// with subscriptions exists (protected references).
	HardDeleteGroup(ctx context.Context, id int64) error

	// CreateFutureTenure persists ft. ErrConflict if the group already has
	// one.
	CreateFutureTenure(ctx context.Context, ft *FutureTenure) error

	// FutureTenure looks up a future tenure by its hash id.
	FutureTenure(ctx context.Context, hashID string) (FutureTenure, error)

	// FutureTenureByGroup looks up the group's future tenure.
	FutureTenureByGroup(ctx context.Context, groupID int64) (FutureTenure, error)

	// UpdateFutureTenure overwrites amount and activation time.
	UpdateFutureTenure(ctx context.Context, ft FutureTenure) error

	// DeleteFutureTenure hard-deletes the tenure and all its watches.
	DeleteFutureTenure(ctx context.Context, hashID string) error

	// MaturedFutureTenures returns tenures whose activation time has passed.
	MaturedFutureTenures(ctx context.Context, asOf time.Time) ([]FutureTenure, error)

	// CreateWatch persists w, assigning its ID. ErrConflict on a duplicate
	// (tenure, user) pair; ErrNotFound if the tenure is absent.
	CreateWatch(ctx context.Context, w *Watch) error

	GetWatch(ctx context.Context, id int64) (Watch, error)

	// WatchesByTenure returns watches in creation order.
	WatchesByTenure(ctx context.Context, tenureID string) ([]Watch, error)

	UpdateWatchStatus(ctx context.Context, id int64, status WatchStatus) error

	// ResetWatches bulk-sets every watch on the tenure to ToReviewUpdate.
	// Idempotent.
	ResetWatches(ctx context.Context, tenureID string) error

	// DeleteWatch hard-deletes a watch.
	DeleteWatch(ctx context.Context, id int64) error

	// PromoteFutureTenure atomically: creates lt (assigning its ID),
	// creates subs in the given order bound to lt, hard-deletes every watch
	// on the future tenure, and hard-deletes the future tenure itself.
	// On any failure nothing is observable.
	PromoteFutureTenure(ctx context.Context, ftHashID string, lt *LiveTenure, subs []LiveSubscription) error

	// LiveTenure looks up a live tenure by id.
	LiveTenure(ctx context.Context, id int64) (LiveTenure, error)

	// LiveTenureByGroup returns the group's live tenure.
	LiveTenureByGroup(ctx context.Context, groupID int64) (LiveTenure, error)

	// SubscriptionsByTenure returns subscriptions in creation order.
	SubscriptionsByTenure(ctx context.Context, tenureID int64) ([]LiveSubscription, error)

	// DueSubscriptions returns subscriptions whose NextChargeAt falls on
	// the same calendar date as day.
	DueSubscriptions(ctx context.Context, day time.Time) ([]LiveSubscription, error)

	// RecordContribution atomically stores the receipt and rolls the
	// subscription's cursors forward.
	RecordContribution(ctx context.Context, c Contribution, subID int64, nextChargeAt, payDate time.Time) error

	// ContributionsByTenure returns receipts, most recent first.
	ContributionsByTenure(ctx context.Context, tenureID int64) ([]Contribution, error)

	// Historical records: data shape only, no dissolution transition yet.
	CreateHistoricalTenure(ctx context.Context, ht *HistoricalTenure) error
	CreateHistoricalSubscription(ctx context.Context, hs *HistoricalSubscription) error
	HistoricalTenuresByGroup(ctx context.Context, groupID int64) ([]HistoricalTenure, error)
}
