// Package tenure implements the savings-group tenure lifecycle: groups pledge
// a periodic amount on a future tenure, watchers opt in while it matures, a
// promotion turns it into a live tenure with randomly ordered subscribers,
// and a collection batch charges each due subscriber every period.
package tenure

import "time"

// All monetary amounts are in minor units (kobo). No floats.

// Group is the aggregate identity. The admin is implicitly a member. HashID
// is the externally visible identifier, derived deterministically from ID.
type Group struct {
	ID        int64      `json:"-"`
	HashID    string     `json:"hash_id"`
	Name      string     `json:"name"`
	AdminID   string     `json:"admin_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the group has been soft-deleted.
func (g Group) Deleted() bool { return g.DeletedAt != nil }

// FutureTenure is a pledged-but-not-yet-active commitment. It shares its
// public key with the owning group: one group, at most one future tenure.
type FutureTenure struct {
	HashID       string    `json:"hash_id"`
	GroupID      int64     `json:"-"`
	Amount       int64     `json:"amount"`
	WillGoLiveAt time.Time `json:"will_go_live_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WatchStatus is a watcher's declared intent toward a future tenure.
type WatchStatus int

const (
	JustWatching WatchStatus = iota
	OptedIn
	ToReviewUpdate
)

func (s WatchStatus) String() string {
	switch s {
	case JustWatching:
		return "Just Watching"
	case OptedIn:
		return "Opted In"
	case ToReviewUpdate:
		return "To Review Update"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the closed set of statuses.
func (s WatchStatus) Valid() bool {
	switch s {
	case JustWatching, OptedIn, ToReviewUpdate:
		return true
	}
	return false
}

// Watch binds a user to a future tenure they are keeping an eye on.
// (tenure, user) pairs are unique.
type Watch struct {
	ID        int64       `json:"id"`
	TenureID  string      `json:"tenure_id"` // future tenure hash id
	UserID    string      `json:"user_id"`
	Status    WatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// LiveTenure is the active rotating commitment. Amount is fixed at promotion
// time. PreviousPayDate/NextPayDate seed subscriber pay dates at creation.
type LiveTenure struct {
	ID              int64     `json:"id"`
	GroupID         int64     `json:"-"`
	Amount          int64     `json:"amount"`
	LiveAt          time.Time `json:"live_at"`
	PreviousPayDate time.Time `json:"previous_pay_date"`
	NextPayDate     time.Time `json:"next_pay_date"`
}

// LiveSubscription binds a user to a live tenure. NextChargeAt is rolled
// forward 7 days on each successful collection; PayDate advances by the
// 30-day payout period.
type LiveSubscription struct {
	ID           int64     `json:"id"`
	TenureID     int64     `json:"tenure_id"`
	UserID       string    `json:"user_id"`
	NextChargeAt time.Time `json:"next_charge_at"`
	PayDate      time.Time `json:"pay_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// Contribution is the immutable receipt of one successfully collected charge.
type Contribution struct {
	ID        string    `json:"id"`
	TenureID  int64     `json:"tenure_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoricalTenure archives a dissolved live tenure. No dissolution logic
// exists yet; the records are written by operators or future transitions.
type HistoricalTenure struct {
	ID          int64     `json:"id"`
	GroupID     int64     `json:"-"`
	Amount      int64     `json:"amount"`
	LiveAt      time.Time `json:"live_at"`
	DissolvedAt time.Time `json:"dissolved_at"`
}

// HistoricalSubscription archives a subscriber of a dissolved tenure.
type HistoricalSubscription struct {
	ID       int64  `json:"id"`
	TenureID int64  `json:"tenure_id"`
	UserID   string `json:"user_id"`
}

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
