package http

import (
	"context"

	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	billingrepo "github.com/numberdrop/golang_services/internal/billing_service/repository"
	msgapp "github.com/numberdrop/golang_services/internal/messaging_service/app"
	msgdomain "github.com/numberdrop/golang_services/internal/messaging_service/domain"
	msgrepo "github.com/numberdrop/golang_services/internal/messaging_service/repository"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	notifrepo "github.com/numberdrop/golang_services/internal/notification_service/repository"
	numberapp "github.com/numberdrop/golang_services/internal/number_service/app"
	numberdomain "github.com/numberdrop/golang_services/internal/number_service/domain"
	numberrepo "github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/shopspring/decimal"
)

// The handlers depend on these narrow views of the application services.

type WalletAPI interface {
	Balance(ctx context.Context, userID string) (*billingdomain.Wallet, error)
	ListEntries(ctx context.Context, userID string, filter billingrepo.LedgerFilter) ([]*billingdomain.LedgerEntry, int, error)
	PendingCount(ctx context.Context, userID string) (int, error)
	FundWallet(ctx context.Context, userID string, amount decimal.Decimal, paymentMethod string) (*billingapp.Posting, error)
	ConfirmFunding(ctx context.Context, reference string) (*billingapp.Posting, error)
	FailFunding(ctx context.Context, reference, reason string) (*billingdomain.LedgerEntry, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*billingapp.Posting, error)
	PayCommission(ctx context.Context, req billingapp.CommissionRequest) (*billingapp.Posting, error)
}

type NumberAPI interface {
	SearchCatalog(ctx context.Context, f numberrepo.CatalogFilter) ([]*numberdomain.AvailableNumber, int, error)
	GetCatalogNumber(ctx context.Context, id string) (*numberdomain.AvailableNumber, error)
	ListOwned(ctx context.Context, userID string, status numberdomain.OwnedStatus) ([]*numberdomain.OwnedNumber, error)
	GetOwned(ctx context.Context, userID, id string) (*numberdomain.OwnedNumber, error)
	UpdateOwned(ctx context.Context, userID, id string, req numberapp.UpdateNumberRequest) (*numberdomain.OwnedNumber, error)
	Cancel(ctx context.Context, userID, id string) (*numberdomain.OwnedNumber, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

type PurchaseAPI interface {
	Purchase(ctx context.Context, req numberapp.PurchaseRequest) (*numberapp.PurchaseResult, error)
}

type MessagingAPI interface {
	SendSMS(ctx context.Context, req msgapp.SendSMSRequest) (*msgapp.SendResult, error)
	ListMessages(ctx context.Context, userID string, f msgrepo.MessageFilter) ([]*msgdomain.MessageRecord, int, error)
	GetMessage(ctx context.Context, userID, id string) (*msgdomain.MessageRecord, error)
	ListCalls(ctx context.Context, userID string, f msgrepo.CallFilter) ([]*msgdomain.CallRecord, int, error)
	Counts(ctx context.Context, userID string) (messages, calls int, err error)
}

type NotificationAPI interface {
	List(ctx context.Context, userID string, f notifrepo.NotificationFilter) ([]*notifdomain.Notification, int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}
