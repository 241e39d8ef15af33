package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/numberdrop/golang_services/internal/number_service/adapters/provisioning"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxFriendlyName = 64
)

type UpdateNumberRequest struct {
	FriendlyName *string
	AutoRenew    *bool
	Status       *domain.OwnedStatus
}

// NumberService covers the catalog and the numbers a user owns, everything but buying.
type NumberService struct {
	catalog     repository.CatalogRepository
	owned       repository.OwnedNumberRepository
	provisioner provisioning.NumberProvisioner
	db          database.Querier
	tx          database.Transactor
	logger      *slog.Logger
}

func NewNumberService(
	catalog repository.CatalogRepository,
	owned repository.OwnedNumberRepository,
	provisioner provisioning.NumberProvisioner,
	db database.Querier,
	tx database.Transactor,
	logger *slog.Logger,
) *NumberService {
	return &NumberService{
		catalog:     catalog,
		owned:       owned,
		provisioner: provisioner,
		db:          db,
		tx:          tx,
		logger:      logger.With("service", "number"),
	}
}

func (s *NumberService) SearchCatalog(ctx context.Context, f repository.CatalogFilter) ([]*domain.AvailableNumber, int, error) {
	if f.PriceMin != nil && f.PriceMax != nil && f.PriceMin.GreaterThan(*f.PriceMax) {
		return nil, 0, core_domain.NewFieldError("price_min", "must not exceed price_max")
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.catalog.Search(ctx, s.db, f, time.Now().UTC())
}

// GetCatalogNumber returns a catalog row that can still be bought.
func (s *NumberService) GetCatalogNumber(ctx context.Context, id string) (*domain.AvailableNumber, error) {
	n, err := s.catalog.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !n.IsAvailable() && !n.ReservationExpired(time.Now().UTC()) {
		return nil, fmt.Errorf("catalog number %s: %w", id, core_domain.ErrNotFound)
	}
	return n, nil
}

func (s *NumberService) ListOwned(ctx context.Context, userID string, status domain.OwnedStatus) ([]*domain.OwnedNumber, error) {
	if status != "" && !status.Valid() {
		return nil, core_domain.NewFieldError("status", "must be one of: pending active suspended cancelled")
	}
	return s.owned.ListByUser(ctx, s.db, userID, status)
}

// GetOwned returns the number only to its owner; everyone else gets ErrNotFound.
func (s *NumberService) GetOwned(ctx context.Context, userID, id string) (*domain.OwnedNumber, error) {
	return ownedBy(ctx, s.owned, s.db, userID, id, false)
}

func (s *NumberService) UpdateOwned(ctx context.Context, userID, id string, req UpdateNumberRequest) (*domain.OwnedNumber, error) {
	if req.FriendlyName != nil && utf8.RuneCountInString(*req.FriendlyName) > maxFriendlyName {
		return nil, core_domain.NewFieldError("friendly_name", fmt.Sprintf("must be at most %d characters", maxFriendlyName))
	}
	if req.Status != nil && *req.Status != domain.OwnedActive && *req.Status != domain.OwnedSuspended {
		return nil, core_domain.NewFieldError("status", "must be one of: active suspended")
	}

	var n *domain.OwnedNumber
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = ownedBy(ctx, s.owned, tx, userID, id, true)
		if err != nil {
			return err
		}
		if n.Status == domain.OwnedCancelled {
			return fmt.Errorf("update cancelled number %s: %w", id, core_domain.ErrInvalidState)
		}
		if req.FriendlyName != nil {
			n.FriendlyName = *req.FriendlyName
		}
		if req.AutoRenew != nil {
			n.AutoRenew = *req.AutoRenew
		}
		if req.Status != nil {
			if n.Status == domain.OwnedPending {
				return fmt.Errorf("change status of pending number %s: %w", id, core_domain.ErrInvalidState)
			}
			n.Status = *req.Status
		}
		return s.owned.Update(ctx, tx, n)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Owned number updated", "user_id", userID, "owned_number_id", id, "status", n.Status, "auto_renew", n.AutoRenew)
	return n, nil
}

// Cancel ends ownership. Cancelling twice is a no-op. The provider number is released
// after the commit; a failed release is logged only.
func (s *NumberService) Cancel(ctx context.Context, userID, id string) (*domain.OwnedNumber, error) {
	var (
		n       *domain.OwnedNumber
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = ownedBy(ctx, s.owned, tx, userID, id, true)
		if err != nil || n.Status == domain.OwnedCancelled {
			return err
		}
		n.Status = domain.OwnedCancelled
		n.AutoRenew = false
		changed = true
		return s.owned.Update(ctx, tx, n)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.InfoContext(ctx, "Owned number cancelled", "user_id", userID, "owned_number_id", id, "phone_number", n.PhoneNumber)
		if err := s.provisioner.Release(ctx, n.ProviderID); err != nil {
			s.logger.WarnContext(ctx, "Failed to release cancelled number at provider", "provider_id", n.ProviderID, "error", err)
		}
	}
	return n, nil
}

func (s *NumberService) CountActive(ctx context.Context, userID string) (int, error) {
	return s.owned.CountActive(ctx, s.db, userID)
}

func ownedBy(ctx context.Context, repo repository.OwnedNumberRepository, q database.Querier, userID, id string, lock bool) (*domain.OwnedNumber, error) {
	get := repo.Get
	if lock {
		get = repo.GetForUpdate
	}
	n, err := get(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, fmt.Errorf("owned number %s: %w", id, core_domain.ErrNotFound)
	}
	return n, nil
}
