package tenure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"esusu.org/internal/ids"
	"esusu.org/internal/obs"
)

// CollectionReport summarizes one collection run. Err aggregates the
// per-subscription trouble (transport errors, store failures) without having
// aborted the batch; declined charges only count toward Failed.
type CollectionReport struct {
	Due       int
	Collected int
	Failed    int
	Err       error
}

// CollectDueContributions charges every subscription due on day and records
// a Contribution receipt per successful charge, advancing the subscription's
// next charge to now+7d and its pay date by one payout period.
//
// Each subscription is an independent unit of work: charges run on a bounded
// worker pool, a failed or declined charge leaves that subscription due for
// the next run, and nothing rolls back across subscriptions. This is the
// system's only retry mechanism: at-least-once, unbounded, no backoff.
func (s *Service) CollectDueContributions(ctx context.Context, day time.Time) (CollectionReport, error) {
	started := s.now()
	due, err := s.store.DueSubscriptions(ctx, day)
	if err != nil {
		return CollectionReport{}, err
	}

	report := CollectionReport{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)
	for _, sub := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub LiveSubscription) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.collectOne(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Err = appendErr(report.Err, err)
				return
			}
			report.Collected++
		}(sub)
	}
	wg.Wait()

	obs.CollectionBatchDuration.Observe(s.now().Sub(started).Seconds())
	s.log.Info("collection run finished",
		"day", day.Format(time.DateOnly),
		"due", report.Due, "collected", report.Collected, "failed", report.Failed,
	)
	return report, nil
}

// collectOne charges a single subscription. A declined charge or a gateway
// timeout returns an error for the report; the subscription stays due either
// way.
func (s *Service) collectOne(ctx context.Context, sub LiveSubscription) error {
	lt, err := s.store.LiveTenure(ctx, sub.TenureID)
	if err != nil {
		return fmt.Errorf("subscription %d: %w", sub.ID, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("subscription %d: %w", sub.ID, err)
		}
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	alert, err := s.gateway.Charge(chargeCtx, sub.UserID, lt.Amount)
	cancel()
	if err != nil {
		obs.ChargeFailuresTotal.Inc()
		s.log.Warn("gateway charge errored", "subscription", sub.ID, "user", sub.UserID, "error", err)
		return fmt.Errorf("charge user %s: %w", sub.UserID, err)
	}
	if alert.IsFailure() {
		obs.ChargeFailuresTotal.Inc()
		s.log.Warn("gateway declined charge", "subscription", sub.ID, "user", sub.UserID, "amount", lt.Amount)
		return fmt.Errorf("charge user %s: declined", sub.UserID)
	}

	c := Contribution{
		ID:        ids.New(),
		TenureID:  lt.ID,
		UserID:    sub.UserID,
		Amount:    alert.Amount,
		CreatedAt: s.now(),
	}
	nextCharge := s.now().Add(chargePeriod)
	payDate := sub.PayDate.AddDate(0, 0, payoutPeriodDays)
	if err := s.store.RecordContribution(ctx, c, sub.ID, nextCharge, payDate); err != nil {
		return fmt.Errorf("record contribution for subscription %d: %w", sub.ID, err)
	}
	obs.ContributionsCollectedTotal.Inc()
	return nil
}

func appendErr(errs, err error) error {
	if err == nil {
		return errs
	}
	return multierror.Append(errs, err).ErrorOrNil()
}
