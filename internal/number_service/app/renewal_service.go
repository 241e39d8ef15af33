package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

// RenewalWindow is how far ahead of expiry an auto-renew number is charged.
const RenewalWindow = 24 * time.Hour

type RenewalReport struct {
	Processed int
	Renewed   int
	Suspended int
	Skipped   int
	Failed    int
}

// RenewalService charges the monthly price of auto-renew numbers and suspends
// numbers whose term ran out.
type RenewalService struct {
	owned    repository.OwnedNumberRepository
	wallet   Wallet
	notifier notifdomain.Notifier
	db       database.Querier
	tx       database.Transactor
	termDays int
	logger   *slog.Logger
}

func NewRenewalService(
	owned repository.OwnedNumberRepository,
	wallet Wallet,
	notifier notifdomain.Notifier,
	db database.Querier,
	tx database.Transactor,
	termDays int,
	logger *slog.Logger,
) *RenewalService {
	if termDays <= 0 {
		termDays = 30
	}
	return &RenewalService{
		owned:    owned,
		wallet:   wallet,
		notifier: notifier,
		db:       db,
		tx:       tx,
		termDays: termDays,
		logger:   logger.With("service", "renewal"),
	}
}

// RenewDue renews every auto-renew number expiring within RenewalWindow of now.
// Each number is handled in its own transaction; one failure does not stop the run.
func (s *RenewalService) RenewDue(ctx context.Context, now time.Time) (RenewalReport, error) {
	var report RenewalReport
	due, err := s.owned.ListDueForRenewal(ctx, s.db, now.Add(RenewalWindow))
	if err != nil {
		return report, err
	}

	for _, candidate := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Processed++
		outcome, note, err := s.renewOne(ctx, candidate.ID, now)
		if err != nil {
			report.Failed++
			renewalsTotal.WithLabelValues("error").Inc()
			s.logger.ErrorContext(ctx, "Renewal failed", "owned_number_id", candidate.ID, "error", err)
			continue
		}
		switch outcome {
		case "renewed":
			report.Renewed++
		case "suspended":
			report.Suspended++
		default:
			report.Skipped++
		}
		renewalsTotal.WithLabelValues(outcome).Inc()
		if note != nil {
			s.notifier.Announce(ctx, note)
		}
	}

	s.logger.InfoContext(ctx, "Renewal run finished", "processed", report.Processed, "renewed", report.Renewed,
		"suspended", report.Suspended, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (s *RenewalService) renewOne(ctx context.Context, id string, now time.Time) (string, *notifdomain.Notification, error) {
	outcome := "skipped"
	var note *notifdomain.Notification
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		// The owned row is locked before the wallet row.
		n, err := s.owned.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if n.Status != domain.OwnedActive || !n.AutoRenew || !n.ExpiresAt.Before(now.Add(RenewalWindow)) {
			return nil
		}

		posting, err := s.wallet.DebitTx(ctx, tx, billingapp.DebitRequest{
			UserID:    n.UserID,
			Amount:    n.MonthlyPrice,
			Kind:      billingdomain.KindRenewal,
			Reference: n.RenewalReference(),
			Metadata:  billingdomain.LedgerMetadata{PhoneNumber: n.PhoneNumber, NumberID: n.ID},
		})
		switch {
		case errors.Is(err, core_domain.ErrInsufficientBalance):
			n.Status = domain.OwnedSuspended
			if err := s.owned.Update(ctx, tx, n); err != nil {
				return err
			}
			note = notifdomain.NewNotification(n.UserID, notifdomain.TypeWarning, "Number Suspended",
				fmt.Sprintf("We could not renew %s: insufficient balance. Fund your wallet to reactivate it.", n.PhoneNumber),
				fmt.Sprintf("/dashboard/numbers/%s/", n.ID))
			outcome = "suspended"
			return s.notifier.Notify(ctx, tx, note)
		case err != nil:
			return err
		case posting.Replayed:
			return nil
		}

		n.ExpiresAt = n.ExpiresAt.AddDate(0, 0, s.termDays)
		if err := s.owned.Update(ctx, tx, n); err != nil {
			return err
		}
		note = notifdomain.NewNotification(n.UserID, notifdomain.TypeInfo, "Number Renewed",
			fmt.Sprintf("%s was renewed until %s", n.PhoneNumber, n.ExpiresAt.Format("2006-01-02")),
			fmt.Sprintf("/dashboard/numbers/%s/", n.ID))
		outcome = "renewed"
		return s.notifier.Notify(ctx, tx, note)
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, note, nil
}

// ExpireLapsed suspends active numbers without auto-renew whose term ended before now.
func (s *RenewalService) ExpireLapsed(ctx context.Context, now time.Time) (RenewalReport, error) {
	var report RenewalReport
	lapsed, err := s.owned.ListLapsed(ctx, s.db, now)
	if err != nil {
		return report, err
	}

	for _, candidate := range lapsed {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Processed++
		var note *notifdomain.Notification
		err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
			n, err := s.owned.GetForUpdate(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if n.Status != domain.OwnedActive || n.AutoRenew || !n.ExpiresAt.Before(now) {
				return nil
			}
			n.Status = domain.OwnedSuspended
			if err := s.owned.Update(ctx, tx, n); err != nil {
				return err
			}
			note = notifdomain.NewNotification(n.UserID, notifdomain.TypeWarning, "Number Expired",
				fmt.Sprintf("%s expired and has been suspended", n.PhoneNumber),
				fmt.Sprintf("/dashboard/numbers/%s/", n.ID))
			return s.notifier.Notify(ctx, tx, note)
		})
		switch {
		case err != nil:
			report.Failed++
			renewalsTotal.WithLabelValues("error").Inc()
			s.logger.ErrorContext(ctx, "Expiry failed", "owned_number_id", candidate.ID, "error", err)
		case note == nil:
			report.Skipped++
		default:
			report.Suspended++
			renewalsTotal.WithLabelValues("expired").Inc()
			s.notifier.Announce(ctx, note)
		}
	}

	s.logger.InfoContext(ctx, "Expiry run finished", "processed", report.Processed,
		"suspended", report.Suspended, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
