package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/instaboost/smmpanel/internal/model"
	"github.com/instaboost/smmpanel/internal/notifier"
	"github.com/instaboost/smmpanel/internal/repository"
)

type stubRepo struct {
	account        *model.Account
	accountErr     error
	byUsername     *model.Account
	byUsernameErr  error
	createdAccount *model.Account
	createErr      error
	createCalls    int

	loginCount    int
	loginCountErr error

	service    *model.Service
	serviceErr error

	orderErr    error
	orderCalled bool
	lastOrder   model.Order

	payment    *model.Payment
	paymentErr error

	resolved        *model.Payment
	resolveErr      error
	resolvedID      int64
	resolvedToken   string
	resolvedStatus  model.PaymentStatus

	bonusBalance decimal.Decimal
	bonusErr     error

	discountErr error

	primary          *model.Referral
	primaryErr       error
	createdPrimary   *model.Referral
	createPrimaryErr error

	byCode    *model.Referral
	byCodeErr error

	completedErr      error
	completedReferrer int64
	completedReferred int64

	referralCount    int
	referralCountErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateAccount(ctx context.Context, uid, username, password string) (*model.Account, error) {
	s.createCalls++
	return s.createdAccount, s.createErr
}

func (s *stubRepo) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubRepo) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.byUsername, s.byUsernameErr
}

func (s *stubRepo) LogLogin(ctx context.Context, userID int64, username string) (int, error) {
	return s.loginCount, s.loginCountErr
}

func (s *stubRepo) GetServices(ctx context.Context) ([]model.Service, error) {
	return nil, nil
}

func (s *stubRepo) GetServiceByName(ctx context.Context, name string) (*model.Service, error) {
	return s.service, s.serviceErr
}

func (s *stubRepo) CreateOrderWithDebit(ctx context.Context, o *model.Order) error {
	s.orderCalled = true
	s.lastOrder = *o
	if s.orderErr != nil {
		return s.orderErr
	}
	o.ID = 1
	return nil
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, utr, method, actionToken string) (*model.Payment, error) {
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	if s.payment != nil {
		return s.payment, nil
	}
	return &model.Payment{
		ID:            1,
		UserID:        userID,
		Amount:        amount,
		UTRNumber:     utr,
		PaymentMethod: method,
		ActionToken:   actionToken,
		Status:        model.PaymentStatusPending,
	}, nil
}

func (s *stubRepo) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return nil, nil
}

func (s *stubRepo) ResolvePayment(ctx context.Context, paymentID int64, status model.PaymentStatus) (*model.Payment, error) {
	s.resolvedID = paymentID
	s.resolvedStatus = status
	return s.resolved, s.resolveErr
}

func (s *stubRepo) ResolvePaymentByToken(ctx context.Context, actionToken string, status model.PaymentStatus) (*model.Payment, error) {
	s.resolvedToken = actionToken
	s.resolvedStatus = status
	return s.resolved, s.resolveErr
}

func (s *stubRepo) ClaimBonus(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.bonusBalance, s.bonusErr
}

func (s *stubRepo) ClaimDiscount(ctx context.Context, userID int64) error {
	return s.discountErr
}

func (s *stubRepo) GetPrimaryReferral(ctx context.Context, userID int64) (*model.Referral, error) {
	return s.primary, s.primaryErr
}

func (s *stubRepo) CreatePrimaryReferral(ctx context.Context, userID int64, code string) (*model.Referral, error) {
	if s.createPrimaryErr != nil {
		return nil, s.createPrimaryErr
	}
	if s.createdPrimary != nil {
		return s.createdPrimary, nil
	}
	return &model.Referral{ID: 1, UserID: userID, ReferralCode: code}, nil
}

func (s *stubRepo) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	return s.byCode, s.byCodeErr
}

func (s *stubRepo) CreateCompletedReferral(ctx context.Context, referrerID, referredID int64, code string) error {
	s.completedReferrer = referrerID
	s.completedReferred = referredID
	return s.completedErr
}

func (s *stubRepo) CountCompletedReferrals(ctx context.Context, referrerID int64) (int, error) {
	return s.referralCount, s.referralCountErr
}

type stubNotifier struct {
	events []notifier.Event
}

func (n *stubNotifier) Notify(e notifier.Event) {
	n.events = append(n.events, e)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderPrice(t *testing.T) {
	tests := []struct {
		name     string
		quantity int
		rate     string
		want     string
	}{
		{"exact", 10000, "4.00", "40.00"},
		{"fraction rounds half up", 333, "1.50", "0.50"},
		{"half paisa rounds up", 25, "1.00", "0.03"},
		{"no drift on repeated tenths", 3000, "0.10", "0.30"},
		{"custom comments", 2500, "12.00", "30.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderPrice(tt.quantity, money(tt.rate))
			if got.StringFixed(2) != tt.want {
				t.Errorf("orderPrice(%d, %s) = %s, want %s", tt.quantity, tt.rate, got.StringFixed(2), tt.want)
			}
		})
	}
}

func TestEffectiveMinOrder(t *testing.T) {
	tests := []struct {
		name string
		svc  model.Service
		want int
	}{
		{"floor dominates", model.Service{Rate: money("4.00"), MinOrder: 100}, 7500},
		{"catalog min dominates", model.Service{Rate: money("400.00"), MinOrder: 100}, 100},
		{"ceil rounds up", model.Service{Rate: money("7.00"), MinOrder: 10}, 4286},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveMinOrder(&tt.svc); got != tt.want {
				t.Errorf("effectiveMinOrder = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1, UID: "UIDA1B2C3D4E"},
		service: &model.Service{
			Name:     "Instagram Followers - Indian",
			Rate:     money("4.00"),
			MinOrder: 100,
			MaxOrder: 100000,
			Active:   true,
		},
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	order, err := svc.PlaceOrder(context.Background(), 1, "Instagram Followers - Indian", "target_user", 10000)
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if order.Price.StringFixed(2) != "40.00" {
		t.Errorf("price = %s, want 40.00", order.Price.StringFixed(2))
	}
	if order.Status != model.OrderStatusProcessing {
		t.Errorf("status = %s, want Processing", order.Status)
	}
	if !strings.HasPrefix(order.OrderID, "ORDER") {
		t.Errorf("order id %q does not have ORDER prefix", order.OrderID)
	}
	if !repo.orderCalled {
		t.Errorf("order was not persisted")
	}
	if len(n.events) != 1 || n.events[0].Kind != notifier.EventOrderPlaced {
		t.Errorf("expected one order_placed event, got %+v", n.events)
	}
}

func TestPlaceOrder_BelowMinimum(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1},
		service: &model.Service{Rate: money("4.00"), MinOrder: 100, MaxOrder: 100000, Active: true},
	}
	svc := NewService(repo, nil)

	_, err := svc.PlaceOrder(context.Background(), 1, "svc", "target_user", 100)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if repo.orderCalled {
		t.Fatalf("no order must be created on validation failure")
	}
}

func TestPlaceOrder_OutOfRange(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1},
		service: &model.Service{Rate: money("12.00"), MinOrder: 10, MaxOrder: 500, Active: true},
	}
	svc := NewService(repo, nil)

	// Цена 36.00 проходит минимум, но количество выше максимума услуги.
	_, err := svc.PlaceOrder(context.Background(), 1, "svc", "target_user", 3000)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestPlaceOrder_InactiveService(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1},
		service: &model.Service{Rate: money("4.00"), MinOrder: 100, MaxOrder: 100000, Active: false},
	}
	svc := NewService(repo, nil)

	_, err := svc.PlaceOrder(context.Background(), 1, "svc", "target_user", 10000)
	if !errors.Is(err, ErrServiceInactive) {
		t.Fatalf("expected ErrServiceInactive, got %v", err)
	}
}

func TestPlaceOrder_InsufficientBalance(t *testing.T) {
	repo := &stubRepo{
		account:  &model.Account{ID: 1},
		service:  &model.Service{Rate: money("4.00"), MinOrder: 100, MaxOrder: 100000, Active: true},
		orderErr: repository.ErrInsufficientBalance,
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	_, err := svc.PlaceOrder(context.Background(), 1, "svc", "target_user", 10000)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(n.events) != 0 {
		t.Fatalf("no notification must be sent for a failed order")
	}
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.PlaceOrder(context.Background(), 1, "svc", "target_user", 0)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestLogin_CreatesNewAccount(t *testing.T) {
	created := &model.Account{ID: 7, UID: "UIDNEWUSER01", InstagramUsername: "newuser", Password: "pass"}
	repo := &stubRepo{
		byUsernameErr:  repository.ErrAccountNotFound,
		createdAccount: created,
		loginCount:     1,
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	account, err := svc.Login(context.Background(), "newuser", "pass", "")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if account.ID != 7 {
		t.Errorf("account id = %d, want 7", account.ID)
	}
	if repo.createCalls != 1 {
		t.Errorf("CreateAccount calls = %d, want 1", repo.createCalls)
	}
	if len(n.events) != 1 || !n.events[0].IsNewUser {
		t.Errorf("expected new-user login event, got %+v", n.events)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := &stubRepo{
		byUsername: &model.Account{ID: 1, InstagramUsername: "someuser", Password: "correct"},
	}
	svc := NewService(repo, nil)

	_, err := svc.Login(context.Background(), "someuser", "wrong", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_RedeemsReferralForNewAccount(t *testing.T) {
	created := &model.Account{ID: 7, UID: "UIDNEWUSER01", Password: "pass"}
	repo := &stubRepo{
		byUsernameErr:  repository.ErrAccountNotFound,
		createdAccount: created,
		loginCount:     1,
		byCode:         &model.Referral{ID: 1, UserID: 3, ReferralCode: "REF-UIDOWNER-ABC123"},
	}
	svc := NewService(repo, nil)

	_, err := svc.Login(context.Background(), "newuser", "pass", "REF-UIDOWNER-ABC123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if repo.completedReferrer != 3 || repo.completedReferred != 7 {
		t.Errorf("completed referral = (%d, %d), want (3, 7)", repo.completedReferrer, repo.completedReferred)
	}
}

func TestRequestTopUp_BelowMinimum(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.RequestTopUp(context.Background(), 1, money("29.99"), "309812345678", "UPI")
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestRequestTopUp_InvalidUTR(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.RequestTopUp(context.Background(), 1, money("200"), "bad utr!", "UPI")
	if !errors.Is(err, ErrInvalidUTR) {
		t.Fatalf("expected ErrInvalidUTR, got %v", err)
	}
}

func TestRequestTopUp_Success(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1, UID: "UIDA1B2C3D4E"},
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	payment, err := svc.RequestTopUp(context.Background(), 1, money("200"), "309812345678", "UPI")
	if err != nil {
		t.Fatalf("RequestTopUp error: %v", err)
	}
	if payment.Status != model.PaymentStatusPending {
		t.Errorf("status = %s, want Pending", payment.Status)
	}
	if payment.ActionToken == "" {
		t.Errorf("action token must be set")
	}
	if len(n.events) != 1 || n.events[0].ActionToken != payment.ActionToken {
		t.Errorf("notification must carry the action token, got %+v", n.events)
	}
}

func TestRequestTopUp_DuplicateUTR(t *testing.T) {
	repo := &stubRepo{
		account:    &model.Account{ID: 1},
		paymentErr: repository.ErrDuplicateUTR,
	}
	svc := NewService(repo, nil)

	_, err := svc.RequestTopUp(context.Background(), 1, money("200"), "309812345678", "UPI")
	if !errors.Is(err, repository.ErrDuplicateUTR) {
		t.Fatalf("expected ErrDuplicateUTR, got %v", err)
	}
}

func TestResolvePayment_InvalidDecision(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.ResolvePayment(context.Background(), 1, model.PaymentStatusPending)
	if !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestResolvePaymentByToken_PassesThrough(t *testing.T) {
	repo := &stubRepo{
		resolved: &model.Payment{ID: 9, Status: model.PaymentStatusApproved},
	}
	svc := NewService(repo, nil)

	p, err := svc.ResolvePaymentByToken(context.Background(), "token-1", model.PaymentStatusApproved)
	if err != nil {
		t.Fatalf("ResolvePaymentByToken error: %v", err)
	}
	if p.ID != 9 {
		t.Errorf("payment id = %d, want 9", p.ID)
	}
	if repo.resolvedToken != "token-1" || repo.resolvedStatus != model.PaymentStatusApproved {
		t.Errorf("resolved (%q, %s), want (token-1, Approved)", repo.resolvedToken, repo.resolvedStatus)
	}
}

func TestClaimBonus_Success(t *testing.T) {
	repo := &stubRepo{
		account:      &model.Account{ID: 1, UID: "UIDA1B2C3D4E"},
		bonusBalance: money("110.00"),
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	balance, err := svc.ClaimBonus(context.Background(), 1)
	if err != nil {
		t.Fatalf("ClaimBonus error: %v", err)
	}
	if balance.StringFixed(2) != "110.00" {
		t.Errorf("balance = %s, want 110.00", balance.StringFixed(2))
	}
	if len(n.events) != 1 || n.events[0].Kind != notifier.EventBonusClaimed {
		t.Errorf("expected bonus_claimed event, got %+v", n.events)
	}
}

func TestClaimBonus_AlreadyClaimed(t *testing.T) {
	repo := &stubRepo{
		account:  &model.Account{ID: 1},
		bonusErr: repository.ErrBonusClaimed,
	}
	n := &stubNotifier{}
	svc := NewService(repo, n)

	_, err := svc.ClaimBonus(context.Background(), 1)
	if !errors.Is(err, repository.ErrBonusClaimed) {
		t.Fatalf("expected ErrBonusClaimed, got %v", err)
	}
	if len(n.events) != 0 {
		t.Fatalf("no notification for a failed bonus claim")
	}
}

func TestRedeemReferralCode_InvalidFormat(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	err := svc.RedeemReferralCode(context.Background(), 1, "not-a-code")
	if !errors.Is(err, ErrInvalidReferralCode) {
		t.Fatalf("expected ErrInvalidReferralCode, got %v", err)
	}
}

func TestRedeemReferralCode_SelfReferral(t *testing.T) {
	repo := &stubRepo{
		byCode: &model.Referral{UserID: 1, ReferralCode: "REF-UIDA1B2C3D4E-ABC123"},
	}
	svc := NewService(repo, nil)

	err := svc.RedeemReferralCode(context.Background(), 1, "REF-UIDA1B2C3D4E-ABC123")
	if !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestRedeemReferralCode_AlreadyRedeemed(t *testing.T) {
	repo := &stubRepo{
		byCode:       &model.Referral{UserID: 2, ReferralCode: "REF-UIDA1B2C3D4E-ABC123"},
		completedErr: repository.ErrAlreadyRedeemed,
	}
	svc := NewService(repo, nil)

	err := svc.RedeemReferralCode(context.Background(), 1, "REF-UIDA1B2C3D4E-ABC123")
	if !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
}

func TestGetReferralStatus_CreatesPrimaryLazily(t *testing.T) {
	repo := &stubRepo{
		account:       &model.Account{ID: 1, UID: "UIDA1B2C3D4E"},
		primaryErr:    repository.ErrReferralNotFound,
		referralCount: 2,
	}
	svc := NewService(repo, nil)

	status, err := svc.GetReferralStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetReferralStatus error: %v", err)
	}
	if !strings.HasPrefix(status.ReferralCode, "REF-UIDA1B2C3D4E-") {
		t.Errorf("code %q does not embed the uid", status.ReferralCode)
	}
	if status.ReferralCount != 2 || status.Eligible {
		t.Errorf("status = %+v, want count 2, not eligible", status)
	}
}

func TestGetReferralStatus_Eligible(t *testing.T) {
	repo := &stubRepo{
		account:       &model.Account{ID: 1, UID: "UIDA1B2C3D4E"},
		primary:       &model.Referral{ReferralCode: "REF-UIDA1B2C3D4E-ABC123"},
		referralCount: 5,
	}
	svc := NewService(repo, nil)

	status, err := svc.GetReferralStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetReferralStatus error: %v", err)
	}
	if !status.Eligible {
		t.Errorf("five referrals must be eligible")
	}
}

func TestClaimReferralReward_NotEligible(t *testing.T) {
	repo := &stubRepo{referralCount: 4}
	svc := NewService(repo, nil)

	err := svc.ClaimReferralReward(context.Background(), 1)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestClaimReferralReward_SecondClaim(t *testing.T) {
	repo := &stubRepo{
		referralCount: 5,
		discountErr:   repository.ErrDiscountClaimed,
	}
	svc := NewService(repo, nil)

	err := svc.ClaimReferralReward(context.Background(), 1)
	if !errors.Is(err, repository.ErrDiscountClaimed) {
		t.Fatalf("expected ErrDiscountClaimed, got %v", err)
	}
}

func TestGenerateIdentifiers(t *testing.T) {
	uid := generateUID()
	if !strings.HasPrefix(uid, "UID") || len(uid) != 12 {
		t.Errorf("unexpected uid format: %q", uid)
	}

	orderID := generateOrderID()
	if !strings.HasPrefix(orderID, "ORDER") {
		t.Errorf("unexpected order id format: %q", orderID)
	}

	code := generateReferralCode("UIDA1B2C3D4E")
	if !strings.HasPrefix(code, "REF-UIDA1B2C3D4E-") {
		t.Errorf("unexpected referral code format: %q", code)
	}
}
