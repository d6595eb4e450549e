// Package pg implements tenure.Store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"esusu.org/internal/tenure"
)

type Store struct {
	db *sql.DB
}

var _ tenure.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool (used by tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateGroup(ctx context.Context, name, adminID string, encode func(int64) (string, error)) (tenure.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tenure.Group{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var g tenure.Group
	g.Name, g.AdminID = name, adminID
	err = tx.QueryRowContext(ctx, `
		insert into groups(name, admin_id) values ($1,$2)
		returning id, created_at, updated_at
	`, name, adminID).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return tenure.Group{}, err
	}

	// hash id derives from the row id, so it is assigned in the same tx
	g.HashID, err = encode(g.ID)
	if err != nil {
		return tenure.Group{}, err
	}
	if _, err := tx.ExecContext(ctx, `update groups set hash_id=$2 where id=$1`, g.ID, g.HashID); err != nil {
		return tenure.Group{}, err
	}
	if err := tx.Commit(); err != nil {
		return tenure.Group{}, err
	}
	return g, nil
}

const groupCols = `id, hash_id, name, admin_id, created_at, updated_at, deleted_at`

func scanGroup(row *sql.Row) (tenure.Group, error) {
	var g tenure.Group
	var deleted sql.NullTime
	err := row.Scan(&g.ID, &g.HashID, &g.Name, &g.AdminID, &g.CreatedAt, &g.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return tenure.Group{}, tenure.ErrNotFound
	}
	if err != nil {
		return tenure.Group{}, err
	}
	if deleted.Valid {
		t := deleted.Time
		g.DeletedAt = &t
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (tenure.Group, error) {
	row := s.db.QueryRowContext(ctx, `select `+groupCols+` from groups where id=$1 and deleted_at is null`, id)
	return scanGroup(row)
}

func (s *Store) GetGroupByHashID(ctx context.Context, hashID string, includeDeleted bool) (tenure.Group, error) {
	q := `select ` + groupCols + ` from groups where hash_id=$1`
	if !includeDeleted {
		q += ` and deleted_at is null`
	}
	return scanGroup(s.db.QueryRowContext(ctx, q, hashID))
}

func (s *Store) ListGroups(ctx context.Context, includeDeleted bool) ([]tenure.Group, error) {
	q := `select ` + groupCols + ` from groups`
	if !includeDeleted {
		q += ` where deleted_at is null`
	}
	q += ` order by created_at desc`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenure.Group
	for rows.Next() {
		var g tenure.Group
		var deleted sql.NullTime
		if err := rows.Scan(&g.ID, &g.HashID, &g.Name, &g.AdminID, &g.CreatedAt, &g.UpdatedAt, &deleted); err != nil {
			return nil, err
		}
		if deleted.Valid {
			t := deleted.Time
			g.DeletedAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeleteGroup(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		update groups set deleted_at=now(), updated_at=now()
		where id=$1 and deleted_at is null
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) UndeleteGroup(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		update groups set deleted_at=null, updated_at=now()
		where id=$1 and deleted_at is not null
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) HardDeleteGroup(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from groups where id=$1 for update`, id).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenure.ErrNotFound
		}
		return err
	}

	// a live tenure with subscribers or receipts blocks hard deletion
	var referenced bool
	err = tx.QueryRowContext(ctx, `
		select exists (
			select 1 from live_tenures lt
			where lt.group_id=$1
			  and (exists (select 1 from live_subscriptions where tenure_id=lt.id)
			    or exists (select 1 from contributions where tenure_id=lt.id))
		)
	`, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return tenure.ErrConflict
	}

	// watches cascade off future_tenures in the schema
	if _, err := tx.ExecContext(ctx, `delete from live_tenures where group_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from future_tenures where group_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from groups where id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateFutureTenure(ctx context.Context, ft *tenure.FutureTenure) error {
	err := s.db.QueryRowContext(ctx, `
		insert into future_tenures(hash_id, group_id, amount, will_go_live_at)
		values ($1,$2,$3,$4)
		returning created_at, updated_at
	`, ft.HashID, ft.GroupID, ft.Amount, ft.WillGoLiveAt).Scan(&ft.CreatedAt, &ft.UpdatedAt)
	return mapPgErr(err)
}

const futureCols = `hash_id, group_id, amount, will_go_live_at, created_at, updated_at`

func scanFuture(row *sql.Row) (tenure.FutureTenure, error) {
	var ft tenure.FutureTenure
	err := row.Scan(&ft.HashID, &ft.GroupID, &ft.Amount, &ft.WillGoLiveAt, &ft.CreatedAt, &ft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenure.FutureTenure{}, tenure.ErrNotFound
	}
	return ft, err
}

func (s *Store) FutureTenure(ctx context.Context, hashID string) (tenure.FutureTenure, error) {
	return scanFuture(s.db.QueryRowContext(ctx, `select `+futureCols+` from future_tenures where hash_id=$1`, hashID))
}

func (s *Store) FutureTenureByGroup(ctx context.Context, groupID int64) (tenure.FutureTenure, error) {
	return scanFuture(s.db.QueryRowContext(ctx, `select `+futureCols+` from future_tenures where group_id=$1`, groupID))
}

func (s *Store) UpdateFutureTenure(ctx context.Context, ft tenure.FutureTenure) error {
	res, err := s.db.ExecContext(ctx, `
		update future_tenures set amount=$2, will_go_live_at=$3, updated_at=now()
		where hash_id=$1
	`, ft.HashID, ft.Amount, ft.WillGoLiveAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteFutureTenure(ctx context.Context, hashID string) error {
	res, err := s.db.ExecContext(ctx, `delete from future_tenures where hash_id=$1`, hashID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) MaturedFutureTenures(ctx context.Context, asOf time.Time) ([]tenure.FutureTenure, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+futureCols+` from future_tenures
		where will_go_live_at <= $1
		order by will_go_live_at asc
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenure.FutureTenure
	for rows.Next() {
		var ft tenure.FutureTenure
		if err := rows.Scan(&ft.HashID, &ft.GroupID, &ft.Amount, &ft.WillGoLiveAt, &ft.CreatedAt, &ft.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

func (s *Store) CreateWatch(ctx context.Context, w *tenure.Watch) error {
	err := s.db.QueryRowContext(ctx, `
		insert into watches(tenure_id, user_id, status)
		values ($1,$2,$3)
		returning id, created_at
	`, w.TenureID, w.UserID, int(w.Status)).Scan(&w.ID, &w.CreatedAt)
	return mapPgErr(err)
}

func (s *Store) GetWatch(ctx context.Context, id int64) (tenure.Watch, error) {
	var w tenure.Watch
	var status int
	err := s.db.QueryRowContext(ctx, `
		select id, tenure_id, user_id, status, created_at from watches where id=$1
	`, id).Scan(&w.ID, &w.TenureID, &w.UserID, &status, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenure.Watch{}, tenure.ErrNotFound
	}
	if err != nil {
		return tenure.Watch{}, err
	}
	w.Status = tenure.WatchStatus(status)
	return w, nil
}

func (s *Store) WatchesByTenure(ctx context.Context, tenureID string) ([]tenure.Watch, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenure_id, user_id, status, created_at
		from watches where tenure_id=$1 order by id asc
	`, tenureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenure.Watch
	for rows.Next() {
		var w tenure.Watch
		var status int
		if err := rows.Scan(&w.ID, &w.TenureID, &w.UserID, &status, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Status = tenure.WatchStatus(status)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWatchStatus(ctx context.Context, id int64, status tenure.WatchStatus) error {
	res, err := s.db.ExecContext(ctx, `update watches set status=$2 where id=$1`, id, int(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ResetWatches(ctx context.Context, tenureID string) error {
	_, err := s.db.ExecContext(ctx, `update watches set status=$2 where tenure_id=$1`,
		tenureID, int(tenure.ToReviewUpdate))
	return err
}

func (s *Store) DeleteWatch(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from watches where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) PromoteFutureTenure(ctx context.Context, ftHashID string, lt *tenure.LiveTenure, subs []tenure.LiveSubscription) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// lock the tenure row so concurrent promotions serialize on it
	var groupID int64
	err = tx.QueryRowContext(ctx, `
		select group_id from future_tenures where hash_id=$1 for update
	`, ftHashID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return tenure.ErrNotFound
	}
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		insert into live_tenures(group_id, amount, live_at, previous_pay_date, next_pay_date)
		values ($1,$2,$3,$4,$5) returning id
	`, lt.GroupID, lt.Amount, lt.LiveAt, lt.PreviousPayDate, lt.NextPayDate).Scan(&lt.ID)
	if err != nil {
		return mapPgErr(err)
	}

	for i := range subs {
		subs[i].TenureID = lt.ID
		err := tx.QueryRowContext(ctx, `
			insert into live_subscriptions(tenure_id, user_id, next_charge_at, pay_date)
			values ($1,$2,$3,$4) returning id, created_at
		`, lt.ID, subs[i].UserID, subs[i].NextChargeAt, subs[i].PayDate).Scan(&subs[i].ID, &subs[i].CreatedAt)
		if err != nil {
			return err
		}
	}

	// watches cascade with the tenure row
	if _, err := tx.ExecContext(ctx, `delete from future_tenures where hash_id=$1`, ftHashID); err != nil {
		return err
	}
	return tx.Commit()
}

const liveCols = `id, group_id, amount, live_at, previous_pay_date, next_pay_date`

func scanLive(row *sql.Row) (tenure.LiveTenure, error) {
	var lt tenure.LiveTenure
	err := row.Scan(&lt.ID, &lt.GroupID, &lt.Amount, &lt.LiveAt, &lt.PreviousPayDate, &lt.NextPayDate)
	if errors.Is(err, sql.ErrNoRows) {
		return tenure.LiveTenure{}, tenure.ErrNotFound
	}
	return lt, err
}

func (s *Store) LiveTenure(ctx context.Context, id int64) (tenure.LiveTenure, error) {
	return scanLive(s.db.QueryRowContext(ctx, `select `+liveCols+` from live_tenures where id=$1`, id))
}

func (s *Store) LiveTenureByGroup(ctx context.Context, groupID int64) (tenure.LiveTenure, error) {
	return scanLive(s.db.QueryRowContext(ctx, `select `+liveCols+` from live_tenures where group_id=$1`, groupID))
}

const subCols = `id, tenure_id, user_id, next_charge_at, pay_date, created_at`

func (s *Store) SubscriptionsByTenure(ctx context.Context, tenureID int64) ([]tenure.LiveSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+subCols+` from live_subscriptions where tenure_id=$1 order by id asc
	`, tenureID)
	if err != nil {
		return nil, err
	}
	return scanSubs(rows)
}

func (s *Store) DueSubscriptions(ctx context.Context, day time.Time) ([]tenure.LiveSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+subCols+` from live_subscriptions
		where next_charge_at::date = $1::date order by id asc
	`, day)
	if err != nil {
		return nil, err
	}
	return scanSubs(rows)
}

func scanSubs(rows *sql.Rows) ([]tenure.LiveSubscription, error) {
	defer rows.Close()
	var out []tenure.LiveSubscription
	for rows.Next() {
		var sub tenure.LiveSubscription
		if err := rows.Scan(&sub.ID, &sub.TenureID, &sub.UserID, &sub.NextChargeAt, &sub.PayDate, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) RecordContribution(ctx context.Context, c tenure.Contribution, subID int64, nextChargeAt, payDate time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update live_subscriptions set next_charge_at=$2, pay_date=$3 where id=$1
	`, subID, nextChargeAt, payDate)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into contributions(id, tenure_id, user_id, amount, created_at)
		values ($1,$2,$3,$4,$5)
	`, c.ID, c.TenureID, c.UserID, c.Amount, c.CreatedAt); err != nil {
		return mapPgErr(err)
	}
	return tx.Commit()
}

func (s *Store) ContributionsByTenure(ctx context.Context, tenureID int64) ([]tenure.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenure_id, user_id, amount, created_at
		from contributions where tenure_id=$1 order by created_at desc
	`, tenureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenure.Contribution
	for rows.Next() {
		var c tenure.Contribution
		if err := rows.Scan(&c.ID, &c.TenureID, &c.UserID, &c.Amount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateHistoricalTenure(ctx context.Context, ht *tenure.HistoricalTenure) error {
	return s.db.QueryRowContext(ctx, `
		insert into historical_tenures(group_id, amount, live_at, dissolved_at)
		values ($1,$2,$3,$4) returning id
	`, ht.GroupID, ht.Amount, ht.LiveAt, ht.DissolvedAt).Scan(&ht.ID)
}

func (s *Store) CreateHistoricalSubscription(ctx context.Context, hs *tenure.HistoricalSubscription) error {
	err := s.db.QueryRowContext(ctx, `
		insert into historical_subscriptions(tenure_id, user_id)
		values ($1,$2) returning id
	`, hs.TenureID, hs.UserID).Scan(&hs.ID)
	return mapPgErr(err)
}

func (s *Store) HistoricalTenuresByGroup(ctx context.Context, groupID int64) ([]tenure.HistoricalTenure, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, group_id, amount, live_at, dissolved_at
		from historical_tenures where group_id=$1 order by dissolved_at desc
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenure.HistoricalTenure
	for rows.Next() {
		var ht tenure.HistoricalTenure
		if err := rows.Scan(&ht.ID, &ht.GroupID, &ht.Amount, &ht.LiveAt, &ht.DissolvedAt); err != nil {
			return nil, err
		}
		out = append(out, ht)
	}
	return out, rows.Err()
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenure.ErrNotFound
	}
	return nil
}

// mapPgErr translates Postgres constraint violations into domain errors:
// unique violations (duplicate tenure or watch) become ErrConflict, foreign
// key violations (absent parent) become ErrNotFound.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return tenure.ErrConflict
		case "23503":
			return tenure.ErrNotFound
		}
	}
	return err
}
