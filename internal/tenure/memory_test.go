package tenure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testEncode(pk int64) (string, error) {
	return "hash-" + string(rune('a'+pk%26)) + uuid.NewString()[:8], nil
}

func storeGroup(t *testing.T, s *InMemory) Group {
	t.Helper()
	g, err := s.CreateGroup(context.Background(), "Savers", uuid.NewString(), testEncode)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func storeFuture(t *testing.T, s *InMemory, g Group, amount int64) FutureTenure {
	t.Helper()
	ft := FutureTenure{
		HashID:       g.HashID,
		GroupID:      g.ID,
		Amount:       amount,
		WillGoLiveAt: time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	if err := s.CreateFutureTenure(context.Background(), &ft); err != nil {
		t.Fatal(err)
	}
	return ft
}

func TestInMemoryGroupLookupPaths(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)

	if _, err := s.GetGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.SoftDeleteGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}

	// default read paths hide the record; include-deleted paths keep it
	if _, err := s.GetGroup(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetGroup after soft delete: %v", err)
	}
	if _, err := s.GetGroupByHashID(ctx, g.HashID, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetGroupByHashID after soft delete: %v", err)
	}
	got, err := s.GetGroupByHashID(ctx, g.HashID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Deleted() {
		t.Fatal("deleted marker missing")
	}

	visible, err := s.ListGroups(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	all, err := s.ListGroups(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 0 || len(all) != 1 {
		t.Fatalf("lists = %d visible / %d all, want 0/1", len(visible), len(all))
	}
}

func TestInMemorySoftDeleteTwice(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)

	if err := s.SoftDeleteGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.SoftDeleteGroup(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second soft delete: %v", err)
	}
	if err := s.UndeleteGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.UndeleteGroup(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("undelete of live group: %v", err)
	}
}

func TestInMemoryHardDeleteCascades(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)
	ft := storeFuture(t, s, g, 5000)

	w := Watch{TenureID: ft.HashID, UserID: uuid.NewString(), Status: JustWatching}
	if err := s.CreateWatch(ctx, &w); err != nil {
		t.Fatal(err)
	}

	if err := s.HardDeleteGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetGroupByHashID(ctx, g.HashID, true); !errors.Is(err, ErrNotFound) {
		t.Fatal("group survived hard delete")
	}
	if _, err := s.FutureTenure(ctx, ft.HashID); !errors.Is(err, ErrNotFound) {
		t.Fatal("future tenure survived hard delete")
	}
	if _, err := s.GetWatch(ctx, w.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("watch survived hard delete")
	}
}

func TestInMemoryHardDeleteRejectedWhileSubscribed(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)
	ft := storeFuture(t, s, g, 5000)

	lt := LiveTenure{GroupID: g.ID, Amount: ft.Amount, LiveAt: time.Now().UTC()}
	subs := []LiveSubscription{{UserID: uuid.NewString()}}
	if err := s.PromoteFutureTenure(ctx, ft.HashID, &lt, subs); err != nil {
		t.Fatal(err)
	}

	if err := s.HardDeleteGroup(ctx, g.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("hard delete with live subscriptions: %v", err)
	}

	// the group must be fully intact after the rejection
	if _, err := s.GetGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LiveTenureByGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
}

func TestInMemoryPromoteConflictsWithLiveTenure(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)
	ft := storeFuture(t, s, g, 5000)

	lt := LiveTenure{GroupID: g.ID, Amount: ft.Amount, LiveAt: time.Now().UTC()}
	if err := s.PromoteFutureTenure(ctx, ft.HashID, &lt, nil); err != nil {
		t.Fatal(err)
	}

	// a second pledge on the same group cannot be promoted while one is live
	second := storeFuture(t, s, g, 7000)
	lt2 := LiveTenure{GroupID: g.ID, Amount: second.Amount, LiveAt: time.Now().UTC()}
	if err := s.PromoteFutureTenure(ctx, second.HashID, &lt2, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInMemoryDeleteWatchAllowsRewatch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)
	ft := storeFuture(t, s, g, 5000)

	user := uuid.NewString()
	w := Watch{TenureID: ft.HashID, UserID: user, Status: JustWatching}
	if err := s.CreateWatch(ctx, &w); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteWatch(ctx, w.ID); err != nil {
		t.Fatal(err)
	}

	again := Watch{TenureID: ft.HashID, UserID: user, Status: JustWatching}
	if err := s.CreateWatch(ctx, &again); err != nil {
		t.Fatalf("rewatch after delete: %v", err)
	}
}

func TestInMemoryRecordContributionRollsCursors(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)
	ft := storeFuture(t, s, g, 5000)

	now := time.Now().UTC()
	lt := LiveTenure{GroupID: g.ID, Amount: ft.Amount, LiveAt: now}
	subs := []LiveSubscription{{
		UserID:       uuid.NewString(),
		NextChargeAt: now.Add(7 * 24 * time.Hour),
		PayDate:      now.AddDate(0, 0, 30),
	}}
	if err := s.PromoteFutureTenure(ctx, ft.HashID, &lt, subs); err != nil {
		t.Fatal(err)
	}

	nextCharge := now.Add(14 * 24 * time.Hour)
	payDate := now.AddDate(0, 0, 60)
	c := Contribution{ID: "01TESTULID", TenureID: lt.ID, UserID: subs[0].UserID, Amount: 5000}
	if err := s.RecordContribution(ctx, c, subs[0].ID, nextCharge, payDate); err != nil {
		t.Fatal(err)
	}

	got, err := s.SubscriptionsByTenure(ctx, lt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].NextChargeAt.Equal(nextCharge) || !got[0].PayDate.Equal(payDate) {
		t.Fatalf("cursors not advanced: %+v", got[0])
	}

	contribs, err := s.ContributionsByTenure(ctx, lt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(contribs) != 1 || contribs[0].ID != "01TESTULID" {
		t.Fatalf("contributions = %+v", contribs)
	}

	if err := s.RecordContribution(ctx, c, 999, nextCharge, payDate); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record against unknown subscription: %v", err)
	}
}

func TestInMemoryHistoricalRecords(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g := storeGroup(t, s)

	older := HistoricalTenure{
		GroupID:     g.ID,
		Amount:      5000,
		LiveAt:      time.Now().UTC().AddDate(0, -6, 0),
		DissolvedAt: time.Now().UTC().AddDate(0, -3, 0),
	}
	newer := HistoricalTenure{
		GroupID:     g.ID,
		Amount:      7000,
		LiveAt:      time.Now().UTC().AddDate(0, -2, 0),
		DissolvedAt: time.Now().UTC(),
	}
	if err := s.CreateHistoricalTenure(ctx, &older); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateHistoricalTenure(ctx, &newer); err != nil {
		t.Fatal(err)
	}

	hs := HistoricalSubscription{TenureID: older.ID, UserID: uuid.NewString()}
	if err := s.CreateHistoricalSubscription(ctx, &hs); err != nil {
		t.Fatal(err)
	}
	orphan := HistoricalSubscription{TenureID: 999, UserID: uuid.NewString()}
	if err := s.CreateHistoricalSubscription(ctx, &orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphan historical subscription: %v", err)
	}

	got, err := s.HistoricalTenuresByGroup(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != newer.ID {
		t.Fatalf("historical tenures = %+v, want newest first", got)
	}
}
