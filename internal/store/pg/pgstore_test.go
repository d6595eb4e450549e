package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"esusu.org/internal/tenure"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateGroupAssignsHashInTx(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into groups").
		WithArgs("Savers", "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))
	mock.ExpectExec("update groups set hash_id").
		WithArgs(int64(42), "hash-for-42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	g, err := s.CreateGroup(context.Background(), "Savers", "admin-1", func(pk int64) (string, error) {
		if pk != 42 {
			t.Fatalf("encode called with %d", pk)
		}
		return "hash-for-42", nil
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if g.HashID != "hash-for-42" || g.ID != 42 {
		t.Fatalf("group = %+v", g)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetGroupByHashIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select .* from groups where hash_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetGroupByHashID(context.Background(), "missing", false)
	if !errors.Is(err, tenure.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteGroupAlreadyDeleted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update groups set deleted_at=now").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SoftDeleteGroup(context.Background(), 7); !errors.Is(err, tenure.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateWatchDuplicateMapsToConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into watches").
		WithArgs("ft-hash", "user-1", 0).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	w := tenure.Watch{TenureID: "ft-hash", UserID: "user-1", Status: tenure.JustWatching}
	if err := s.CreateWatch(context.Background(), &w); !errors.Is(err, tenure.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateFutureTenureMissingGroupMapsToNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into future_tenures").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	ft := tenure.FutureTenure{HashID: "ft-hash", GroupID: 99, Amount: 5000, WillGoLiveAt: time.Now()}
	if err := s.CreateFutureTenure(context.Background(), &ft); !errors.Is(err, tenure.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromoteFutureTenureTx(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("select group_id from future_tenures where hash_id=.* for update").
		WithArgs("ft-hash").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow(3))
	mock.ExpectQuery("insert into live_tenures").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("insert into live_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, now))
	mock.ExpectQuery("insert into live_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(22, now))
	mock.ExpectExec("delete from future_tenures").
		WithArgs("ft-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lt := tenure.LiveTenure{GroupID: 3, Amount: 5000, LiveAt: now, PreviousPayDate: today, NextPayDate: today.AddDate(0, 0, 30)}
	subs := []tenure.LiveSubscription{
		{UserID: "user-a", NextChargeAt: now.Add(7 * 24 * time.Hour), PayDate: today.AddDate(0, 0, 30)},
		{UserID: "user-b", NextChargeAt: now.Add(7 * 24 * time.Hour), PayDate: today.AddDate(0, 0, 60)},
	}
	if err := s.PromoteFutureTenure(context.Background(), "ft-hash", &lt, subs); err != nil {
		t.Fatalf("PromoteFutureTenure: %v", err)
	}
	if lt.ID != 11 {
		t.Fatalf("live tenure id = %d", lt.ID)
	}
	if subs[0].ID != 21 || subs[1].ID != 22 {
		t.Fatalf("subscription ids = %d, %d", subs[0].ID, subs[1].ID)
	}
	if subs[0].TenureID != 11 || subs[1].TenureID != 11 {
		t.Fatal("subscriptions not bound to the new tenure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoteFutureTenureGone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select group_id from future_tenures").
		WithArgs("ft-hash").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))
	mock.ExpectRollback()

	lt := tenure.LiveTenure{}
	if err := s.PromoteFutureTenure(context.Background(), "ft-hash", &lt, nil); !errors.Is(err, tenure.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordContributionTx(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update live_subscriptions set next_charge_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into contributions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := tenure.Contribution{ID: "01TESTULID", TenureID: 11, UserID: "user-a", Amount: 5000, CreatedAt: now}
	err := s.RecordContribution(context.Background(), c, 21, now.Add(7*24*time.Hour), now.AddDate(0, 0, 60))
	if err != nil {
		t.Fatalf("RecordContribution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHardDeleteGroupBlockedBySubscriptions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from groups where id=.* for update").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select exists").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if err := s.HardDeleteGroup(context.Background(), 3); !errors.Is(err, tenure.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
