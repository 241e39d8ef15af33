package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/shopspring/decimal"
)

var minFunding = decimal.NewFromInt(1)

var paymentMethods = map[string]bool{"card": true, "bank": true, "crypto": true}

// FundWallet records a pending funding credit. The balance moves only when the payment
// is confirmed through ConfirmFunding.
func (s *WalletService) FundWallet(ctx context.Context, userID string, amount decimal.Decimal, paymentMethod string) (*Posting, error) {
	fields := map[string]string{}
	if amount.LessThan(minFunding) {
		fields["amount"] = "must be at least 1.00"
	}
	if !paymentMethods[paymentMethod] {
		fields["payment_method"] = "must be one of: card bank crypto"
	}
	if len(fields) > 0 {
		return nil, core_domain.NewValidationError(fields)
	}

	return s.Credit(ctx, CreditRequest{
		UserID:    userID,
		Amount:    amount,
		Kind:      domain.KindFund,
		Reference: core_domain.NewReference("FUND", 12),
		Metadata:  domain.LedgerMetadata{PaymentMethod: paymentMethod},
		Status:    domain.StatusPending,
	})
}

// ConfirmFunding settles a pending funding entry and credits the wallet. Confirming an
// entry that already succeeded is a replay.
func (s *WalletService) ConfirmFunding(ctx context.Context, reference string) (*Posting, error) {
	var (
		posting *Posting
		note    *notifdomain.Notification
	)
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		entry, err := s.ledgerRepo.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		if entry.Kind != domain.KindFund {
			return fmt.Errorf("confirm %s entry %s: %w", entry.Kind, reference, core_domain.ErrInvalidState)
		}
		switch entry.Status {
		case domain.StatusSuccess:
			wallet, err := s.walletRepo.Get(ctx, tx, entry.UserID)
			if err != nil {
				return err
			}
			posting = &Posting{Entry: entry, Balance: wallet.Balance, Replayed: true}
			return nil
		case domain.StatusFailed:
			return fmt.Errorf("confirm failed funding %s: %w", reference, core_domain.ErrInvalidState)
		}

		wallet, err := s.walletRepo.GetForUpdate(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}
		balance := wallet.Balance.Add(entry.Amount)
		if err := s.walletRepo.UpdateBalance(ctx, tx, entry.UserID, balance); err != nil {
			return err
		}
		if err := s.ledgerRepo.UpdateStatus(ctx, tx, entry.ID, domain.StatusSuccess, &balance, entry.Metadata); err != nil {
			return err
		}
		entry.Status = domain.StatusSuccess
		entry.BalanceAfter = &balance

		note = notifdomain.NewNotification(entry.UserID, notifdomain.TypePayment, "Wallet Funded",
			fmt.Sprintf("Your wallet was credited with %s", entry.Amount.StringFixed(2)), "/dashboard/wallet/")
		if err := s.notifier.Notify(ctx, tx, note); err != nil {
			return err
		}
		posting = &Posting{Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !posting.Replayed {
		s.logger.InfoContext(ctx, "Funding confirmed", "user_id", posting.Entry.UserID,
			"reference", reference, "amount", posting.Entry.Amount.StringFixed(2))
		postingsTotal.WithLabelValues(string(domain.KindFund), string(domain.StatusSuccess)).Inc()
		s.events.Emit(ctx, messagebroker.EventLedgerPosted, posting.Entry.UserID, posting.Entry)
		s.notifier.Announce(ctx, note)
	}
	return posting, nil
}

// FailFunding marks a pending funding entry failed. The balance is untouched.
func (s *WalletService) FailFunding(ctx context.Context, reference, reason string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = s.ledgerRepo.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		if entry.Kind != domain.KindFund || !entry.Status.CanTransitionTo(domain.StatusFailed) {
			return fmt.Errorf("fail %s %s entry %s: %w", entry.Status, entry.Kind, reference, core_domain.ErrInvalidState)
		}
		entry.Metadata.FailureReason = reason
		if err := s.ledgerRepo.UpdateStatus(ctx, tx, entry.ID, domain.StatusFailed, nil, entry.Metadata); err != nil {
			return err
		}
		entry.Status = domain.StatusFailed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Funding failed", "user_id", entry.UserID, "reference", reference, "reason", reason)
	postingsTotal.WithLabelValues(string(domain.KindFund), string(domain.StatusFailed)).Inc()
	return entry, nil
}

// Withdraw debits the wallet for a payout. reference may be a client idempotency key.
func (s *WalletService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*Posting, error) {
	if reference == "" {
		reference = core_domain.NewReference("WITHDRAW", 12)
	} else {
		reference = "WITHDRAW-" + reference
	}
	return s.Debit(ctx, DebitRequest{
		UserID:    userID,
		Amount:    amount,
		Kind:      domain.KindWithdrawal,
		Reference: reference,
	})
}

type CommissionRequest struct {
	ReferrerID     string
	ReferredUserID string
	BaseAmount     decimal.Decimal
	Reference      string
}

// PayCommission credits the referrer with CommissionRate of BaseAmount, rounded to cents.
func (s *WalletService) PayCommission(ctx context.Context, req CommissionRequest) (*Posting, error) {
	fields := map[string]string{}
	if req.ReferrerID == "" {
		fields["referrer_id"] = "is required"
	} else if _, err := uuid.Parse(req.ReferrerID); err != nil {
		fields["referrer_id"] = "must be a UUID"
	}
	if req.ReferredUserID == "" {
		fields["referred_user_id"] = "is required"
	} else if _, err := uuid.Parse(req.ReferredUserID); err != nil {
		fields["referred_user_id"] = "must be a UUID"
	} else if req.ReferredUserID == req.ReferrerID {
		fields["referred_user_id"] = "must differ from referrer_id"
	}
	if req.Reference == "" {
		fields["reference"] = "is required"
	}
	amount := req.BaseAmount.Mul(s.cfg.CommissionRate).Round(2)
	if !amount.IsPositive() {
		fields["base_amount"] = "yields no commission"
	}
	if len(fields) > 0 {
		return nil, core_domain.NewValidationError(fields)
	}

	var note *notifdomain.Notification
	var posting *Posting
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		posting, err = s.CreditTx(ctx, tx, CreditRequest{
			UserID:    req.ReferrerID,
			Amount:    amount,
			Kind:      domain.KindCommission,
			Reference: "COMMISSION-" + req.Reference,
			Metadata:  domain.LedgerMetadata{RelatedUserID: req.ReferredUserID},
		})
		if err != nil || posting.Replayed {
			return err
		}
		note = notifdomain.NewNotification(req.ReferrerID, notifdomain.TypePayment, "Referral Commission Earned",
			fmt.Sprintf("You earned %s in referral commission", amount.StringFixed(2)), "/dashboard/referrals/")
		return s.notifier.Notify(ctx, tx, note)
	})
	if err != nil {
		return s.recoverDuplicate(ctx, req.ReferrerID, "COMMISSION-"+req.Reference, err)
	}
	s.afterCommit(ctx, posting)
	if note != nil {
		s.notifier.Announce(ctx, note)
	}
	return posting, nil
}
