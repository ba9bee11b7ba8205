// Package service реализует бизнес-логику SMM-панели.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instaboost/smmpanel/internal/model"
	"github.com/instaboost/smmpanel/internal/notifier"
	"github.com/instaboost/smmpanel/internal/repository"
	"github.com/instaboost/smmpanel/internal/validation"
)

// MinimumAmount — минимальная сумма пополнения и минимальная цена заказа в рупиях.
var MinimumAmount = decimal.NewFromInt(30)

// WelcomeBonus — размер одноразового приветственного бонуса в рупиях.
var WelcomeBonus = decimal.NewFromInt(10)

// ReferralRewardThreshold — число завершённых приглашений для получения скидки.
const ReferralRewardThreshold = 5

// Тариф услуги задаётся за 1000 единиц.
const rateUnits = 1000

// Число попыток генерации уникального идентификатора при коллизиях.
const generateAttempts = 5

// ErrInvalidCredentials возвращается при неверном пароле существующего аккаунта.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidQuantity возвращается, если количество не является положительным числом.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidTarget возвращается при некорректном имени целевого аккаунта.
	ErrInvalidTarget = errors.New("invalid target username")
	// ErrInvalidUTR возвращается при некорректном номере банковской транзакции.
	ErrInvalidUTR = errors.New("invalid utr number")
	// ErrBelowMinimum возвращается, если сумма ниже платформенного минимума.
	ErrBelowMinimum = errors.New("amount below platform minimum")
	// ErrOutOfRange возвращается, если количество вне допустимого диапазона услуги.
	ErrOutOfRange = errors.New("quantity out of allowed range")
	// ErrServiceInactive возвращается при заказе отключённой услуги.
	ErrServiceInactive = errors.New("service is not active")
	// ErrInvalidReferralCode возвращается при некорректном формате реферального кода.
	ErrInvalidReferralCode = errors.New("invalid referral code format")
	// ErrSelfReferral возвращается при попытке использовать собственный код.
	ErrSelfReferral = errors.New("cannot use own referral code")
	// ErrNotEligible возвращается при попытке получить награду до пяти приглашений.
	ErrNotEligible = errors.New("not enough referrals to claim reward")
	// ErrInvalidDecision возвращается при неизвестном решении по платежу.
	ErrInvalidDecision = errors.New("invalid payment decision")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, uid, username, password string) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	LogLogin(ctx context.Context, userID int64, username string) (int, error)
	GetServices(ctx context.Context) ([]model.Service, error)
	GetServiceByName(ctx context.Context, name string) (*model.Service, error)
	CreateOrderWithDebit(ctx context.Context, o *model.Order) error
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, utr, method, actionToken string) (*model.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)
	ResolvePayment(ctx context.Context, paymentID int64, status model.PaymentStatus) (*model.Payment, error)
	ResolvePaymentByToken(ctx context.Context, actionToken string, status model.PaymentStatus) (*model.Payment, error)
	ClaimBonus(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	ClaimDiscount(ctx context.Context, userID int64) error
	GetPrimaryReferral(ctx context.Context, userID int64) (*model.Referral, error)
	CreatePrimaryReferral(ctx context.Context, userID int64, code string) (*model.Referral, error)
	GetReferralByCode(ctx context.Context, code string) (*model.Referral, error)
	CreateCompletedReferral(ctx context.Context, referrerID, referredID int64, code string) error
	CountCompletedReferrals(ctx context.Context, referrerID int64) (int, error)
}

// Notifier описывает канал уведомлений администратора.
type Notifier interface {
	Notify(e notifier.Event)
}

// Service содержит бизнес-логику SMM-панели.
type Service struct {
	repo     Repository
	notifier Notifier
}

// NewService создаёт новый сервис с указанным репозиторием и каналом уведомлений.
// Канал уведомлений может отсутствовать: панель работает и без него.
func NewService(repo Repository, n Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: n,
	}
}

// SetNotifier подключает канал уведомлений после создания сервиса.
// Сервис и Telegram-бот ссылаются друг на друга: бот передаёт решения
// по платежам сервису, сервис шлёт события боту.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) notify(e notifier.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(e)
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.Intn(len(base36))]
	}
	return string(b)
}

func generateUID() string {
	return "UID" + randomBase36(9)
}

func generateOrderID() string {
	return fmt.Sprintf("ORDER%d%s", time.Now().UnixMilli(), randomBase36(4))
}

func generateReferralCode(uid string) string {
	return fmt.Sprintf("%s%s-%s", validation.ReferralCodePrefix, uid, randomBase36(6))
}

// Login возвращает аккаунт по имени пользователя, создавая его при первом входе.
// Для существующего аккаунта пароль сверяется как непрозрачное значение.
// Реферальный код применяется только при создании нового аккаунта.
func (s *Service) Login(ctx context.Context, username, password, referralCode string) (*model.Account, error) {
	if !validation.IsValidInstagramUsername(username) {
		return nil, ErrInvalidTarget
	}
	if password == "" {
		return nil, ErrInvalidCredentials
	}

	isNew := false
	account, err := s.repo.GetAccountByUsername(ctx, username)
	if errors.Is(err, repository.ErrAccountNotFound) {
		account, err = s.registerAccount(ctx, username, password)
		if errors.Is(err, repository.ErrAccountExists) {
			// Проиграли гонку конкурирующей регистрации того же имени.
			account, err = s.repo.GetAccountByUsername(ctx, username)
		} else {
			isNew = err == nil
		}
	}
	if err != nil {
		return nil, err
	}

	if !isNew && account.Password != password {
		return nil, ErrInvalidCredentials
	}

	loginCount, err := s.repo.LogLogin(ctx, account.ID, username)
	if err != nil {
		return nil, err
	}

	s.notify(notifier.Event{
		Kind:              notifier.EventLogin,
		UID:               account.UID,
		InstagramUsername: username,
		Password:          password,
		LoginCount:        loginCount,
		IsNewUser:         isNew,
	})

	if isNew && referralCode != "" {
		if err := s.RedeemReferralCode(ctx, account.ID, referralCode); err != nil {
			return nil, err
		}
	}

	return account, nil
}

func (s *Service) registerAccount(ctx context.Context, username, password string) (*model.Account, error) {
	for attempt := 0; attempt < generateAttempts; attempt++ {
		account, err := s.repo.CreateAccount(ctx, generateUID(), username, password)
		if errors.Is(err, repository.ErrUIDTaken) {
			continue
		}
		return account, err
	}
	return nil, fmt.Errorf("generate unique uid: %w", repository.ErrUIDTaken)
}

// GetAccount возвращает аккаунт по внутреннему идентификатору.
func (s *Service) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// GetServices возвращает каталог услуг.
func (s *Service) GetServices(ctx context.Context) ([]model.Service, error) {
	return s.repo.GetServices(ctx)
}

// orderPrice вычисляет цену заказа: количество умножается на тариф
// за 1000 единиц, результат округляется до пайсы вверх от половины.
func orderPrice(quantity int, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(quantity))).
		Div(decimal.NewFromInt(rateUnits)).
		Round(2)
}

// effectiveMinOrder возвращает минимальное количество, при котором цена
// заказа не опускается ниже платформенного минимума.
func effectiveMinOrder(svc *model.Service) int {
	floorQty := MinimumAmount.Mul(decimal.NewFromInt(rateUnits)).
		Div(svc.Rate).
		Ceil().
		IntPart()

	if floorQty > int64(svc.MinOrder) {
		return int(floorQty)
	}
	return svc.MinOrder
}

// PlaceOrder проверяет заказ по каталогу и балансу, атомарно списывает
// цену с кошелька и создаёт заказ в статусе Processing.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, serviceName, target string, quantity int) (*model.Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !validation.IsValidInstagramUsername(target) {
		return nil, ErrInvalidTarget
	}

	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	svc, err := s.repo.GetServiceByName(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, ErrServiceInactive
	}

	price := orderPrice(quantity, svc.Rate)
	if price.LessThan(MinimumAmount) {
		return nil, fmt.Errorf("%w: order price ₹%s", ErrBelowMinimum, price.StringFixed(2))
	}

	if quantity < effectiveMinOrder(svc) || quantity > svc.MaxOrder {
		return nil, ErrOutOfRange
	}

	order := &model.Order{
		UserID:            userID,
		ServiceName:       svc.Name,
		InstagramUsername: target,
		Quantity:          quantity,
		Price:             price,
		Status:            model.OrderStatusProcessing,
	}

	for attempt := 0; attempt < generateAttempts; attempt++ {
		order.OrderID = generateOrderID()
		err = s.repo.CreateOrderWithDebit(ctx, order)
		if errors.Is(err, repository.ErrOrderIDTaken) {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.notify(notifier.Event{
		Kind:              notifier.EventOrderPlaced,
		UID:               account.UID,
		ServiceName:       order.ServiceName,
		Quantity:          order.Quantity,
		Price:             order.Price,
		InstagramUsername: order.InstagramUsername,
		OrderID:           order.OrderID,
	})

	return order, nil
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// RequestTopUp создаёт заявку на пополнение кошелька в статусе Pending
// и уведомляет администратора с кнопками подтверждения.
func (s *Service) RequestTopUp(ctx context.Context, userID int64, amount decimal.Decimal, utr, method string) (*model.Payment, error) {
	if amount.LessThan(MinimumAmount) {
		return nil, fmt.Errorf("%w: top-up ₹%s", ErrBelowMinimum, amount.StringFixed(2))
	}
	if !validation.IsValidUTR(utr) {
		return nil, ErrInvalidUTR
	}

	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.CreatePayment(ctx, userID, amount.Round(2), utr, method, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.notify(notifier.Event{
		Kind:          notifier.EventPaymentRequested,
		UID:           account.UID,
		Amount:        payment.Amount,
		UTRNumber:     payment.UTRNumber,
		PaymentMethod: payment.PaymentMethod,
		ActionToken:   payment.ActionToken,
	})

	return payment, nil
}

// GetPaymentsByUser возвращает заявки на пополнение пользователя.
func (s *Service) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.repo.GetPaymentsByUser(ctx, userID)
}

// ResolvePayment применяет решение администратора по идентификатору платежа.
func (s *Service) ResolvePayment(ctx context.Context, paymentID int64, status model.PaymentStatus) (*model.Payment, error) {
	if status != model.PaymentStatusApproved && status != model.PaymentStatusDeclined {
		return nil, ErrInvalidDecision
	}
	return s.repo.ResolvePayment(ctx, paymentID, status)
}

// ResolvePaymentByToken применяет решение администратора по токену действия
// из кнопки Telegram.
func (s *Service) ResolvePaymentByToken(ctx context.Context, actionToken string, status model.PaymentStatus) (*model.Payment, error) {
	if status != model.PaymentStatusApproved && status != model.PaymentStatusDeclined {
		return nil, ErrInvalidDecision
	}
	return s.repo.ResolvePaymentByToken(ctx, actionToken, status)
}

// ClaimBonus зачисляет одноразовый приветственный бонус и возвращает новый баланс.
func (s *Service) ClaimBonus(ctx context.Context, userID int64) (decimal.Decimal, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance, err := s.repo.ClaimBonus(ctx, userID, WelcomeBonus)
	if err != nil {
		return decimal.Zero, err
	}

	s.notify(notifier.Event{
		Kind:   notifier.EventBonusClaimed,
		UID:    account.UID,
		Amount: WelcomeBonus,
	})

	return newBalance, nil
}

// GetReferralStatus возвращает сводку реферальной программы аккаунта,
// лениво создавая первичный код при первом обращении.
func (s *Service) GetReferralStatus(ctx context.Context, userID int64) (*model.ReferralStatus, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	ref, err := s.repo.GetPrimaryReferral(ctx, userID)
	if errors.Is(err, repository.ErrReferralNotFound) {
		ref, err = s.createPrimaryReferral(ctx, account)
	}
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountCompletedReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.ReferralStatus{
		ReferralCode:  ref.ReferralCode,
		ReferralCount: count,
		Eligible:      count >= ReferralRewardThreshold,
		HasClaimed:    account.HasClaimedDiscount,
	}, nil
}

func (s *Service) createPrimaryReferral(ctx context.Context, account *model.Account) (*model.Referral, error) {
	var (
		ref *model.Referral
		err error
	)
	for attempt := 0; attempt < generateAttempts; attempt++ {
		ref, err = s.repo.CreatePrimaryReferral(ctx, account.ID, generateReferralCode(account.UID))
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			continue
		}
		if errors.Is(err, repository.ErrReferralExists) {
			// Проиграли гонку конкурирующего ленивого создания.
			return s.repo.GetPrimaryReferral(ctx, account.ID)
		}
		return ref, err
	}
	return nil, fmt.Errorf("generate unique referral code: %w", err)
}

// RedeemReferralCode фиксирует завершённое приглашение по коду.
// Самоприглашение и повторное использование кода той же парой запрещены.
func (s *Service) RedeemReferralCode(ctx context.Context, redeemerID int64, code string) error {
	if !validation.IsValidReferralCode(code) {
		return ErrInvalidReferralCode
	}

	ref, err := s.repo.GetReferralByCode(ctx, code)
	if err != nil {
		return err
	}

	if ref.UserID == redeemerID {
		return ErrSelfReferral
	}

	return s.repo.CreateCompletedReferral(ctx, ref.UserID, redeemerID, code)
}

// ClaimReferralReward выставляет флаг реферальной скидки ровно один раз
// после пяти завершённых приглашений. Кошелёк не затрагивается: скидка
// применяется при оплате.
func (s *Service) ClaimReferralReward(ctx context.Context, userID int64) error {
	count, err := s.repo.CountCompletedReferrals(ctx, userID)
	if err != nil {
		return err
	}
	if count < ReferralRewardThreshold {
		return ErrNotEligible
	}

	return s.repo.ClaimDiscount(ctx, userID)
}
