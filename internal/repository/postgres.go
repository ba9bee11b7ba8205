// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/instaboost/smmpanel/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать аккаунт с занятым именем пользователя.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUIDTaken возвращается при коллизии сгенерированного UID.
	ErrUIDTaken = errors.New("uid already taken")
	// ErrInsufficientBalance возвращается при списании суммы, превышающей баланс кошелька.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrOrderIDTaken возвращается при коллизии сгенерированного номера заказа.
	ErrOrderIDTaken = errors.New("order id already taken")
	// ErrServiceNotFound возвращается, если услуга отсутствует в каталоге.
	ErrServiceNotFound = errors.New("service not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentResolved возвращается при повторной попытке подтвердить или отклонить платёж.
	ErrPaymentResolved = errors.New("payment already resolved")
	// ErrDuplicateUTR возвращается при повторном использовании номера транзакции.
	ErrDuplicateUTR = errors.New("utr number already used")
	// ErrReferralNotFound возвращается, если реферальный код не найден.
	ErrReferralNotFound = errors.New("referral code not found")
	// ErrReferralCodeTaken возвращается при коллизии сгенерированного реферального кода.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrReferralExists возвращается, если первичный код аккаунта уже создан.
	ErrReferralExists = errors.New("primary referral already exists")
	// ErrAlreadyRedeemed возвращается при повторном использовании кода той же парой аккаунтов.
	ErrAlreadyRedeemed = errors.New("referral already redeemed")
	// ErrBonusClaimed возвращается при повторной попытке получить приветственный бонус.
	ErrBonusClaimed = errors.New("bonus already claimed")
	// ErrDiscountClaimed возвращается при повторной попытке получить реферальную скидку.
	ErrDiscountClaimed = errors.New("discount already claimed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
// Подключение проверяется с повторами: база может подниматься дольше сервиса.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	backoff := retry.WithMaxRetries(4, retry.NewConstant(3*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только конфликты сериализации и дедлоки: прочие
		// ошибки либо доменные, либо их переживёт pgxpool сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const accountColumns = `id, uid, instagram_username, password, wallet_balance::text,
	 bonus_claimed, has_claimed_discount, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a       model.Account
		balance string
	)
	err := row.Scan(&a.ID, &a.UID, &a.InstagramUsername, &a.Password, &balance,
		&a.BonusClaimed, &a.HasClaimedDiscount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.WalletBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}

	return &a, nil
}

// CreateAccount создаёт новый аккаунт с нулевым балансом кошелька.
func (r *PostgresRepository) CreateAccount(ctx context.Context, uid, username, password string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (uid, instagram_username, password)
		 VALUES ($1, $2, $3)
		 RETURNING `+accountColumns,
		uid, username, password,
	)

	a, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err, "users_instagram_username_key") {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, username)
		}
		if isUniqueViolation(err, "users_uid_key") {
			return nil, ErrUIDTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return a, nil
}

// GetAccount возвращает аккаунт по внутреннему идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`,
		id,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return a, nil
}

// GetAccountByUsername возвращает аккаунт по имени пользователя Instagram.
func (r *PostgresRepository) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE instagram_username = $1`,
		username,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by username: %w", err)
	}

	return a, nil
}

// LogLogin фиксирует вход пользователя и возвращает порядковый номер входа.
func (r *PostgresRepository) LogLogin(ctx context.Context, userID int64, username string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO login_logs (user_id, instagram_username, login_count)
		 VALUES ($1, $2, (SELECT COUNT(*) + 1 FROM login_logs WHERE user_id = $1))
		 RETURNING login_count`,
		userID, username,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("log login: %w", err)
	}

	return count, nil
}

// GetServices возвращает каталог услуг.
func (r *PostgresRepository) GetServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, category, rate::text, min_order, max_order, delivery_time, active
		 FROM services
		 ORDER BY category, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var (
			s    model.Service
			rate string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &rate, &s.MinOrder, &s.MaxOrder, &s.DeliveryTime, &s.Active); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}

		s.Rate, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("parse service rate: %w", err)
		}

		services = append(services, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return services, nil
}

// GetServiceByName возвращает услугу по точному названию.
func (r *PostgresRepository) GetServiceByName(ctx context.Context, name string) (*model.Service, error) {
	var (
		s    model.Service
		rate string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, category, rate::text, min_order, max_order, delivery_time, active
		 FROM services
		 WHERE name = $1`,
		name,
	).Scan(&s.ID, &s.Name, &s.Category, &rate, &s.MinOrder, &s.MaxOrder, &s.DeliveryTime, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}

	s.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse service rate: %w", err)
	}

	return &s, nil
}

// lockWalletBalance блокирует строку пользователя и возвращает текущий баланс.
// Все изменения кошелька проходят через эту блокировку: она сериализует
// конкурирующие списания и зачисления по одному аккаунту.
func lockWalletBalance(ctx context.Context, tx pgx.Tx, userID int64) (decimal.Decimal, error) {
	var balance string
	err := tx.QueryRow(ctx,
		`SELECT wallet_balance::text FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("lock user row: %w", err)
	}

	d, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse wallet balance: %w", err)
	}

	return d, nil
}

func setWalletBalance(ctx context.Context, tx pgx.Tx, userID int64, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET wallet_balance = $2::numeric WHERE id = $1`,
		userID, balance.StringFixed(2),
	)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

// CreateOrderWithDebit атомарно списывает цену заказа с кошелька и создаёт заказ.
// Не существует состояния, в котором заказ создан без списания или наоборот.
func (r *PostgresRepository) CreateOrderWithDebit(ctx context.Context, o *model.Order) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockWalletBalance(ctx, tx, o.UserID)
		if err != nil {
			return err
		}

		if balance.LessThan(o.Price) {
			return ErrInsufficientBalance
		}

		if err := setWalletBalance(ctx, tx, o.UserID, balance.Sub(o.Price)); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (order_id, user_id, service_name, instagram_username, quantity, price, status)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
			 RETURNING id, created_at`,
			o.OrderID, o.UserID, o.ServiceName, o.InstagramUsername, o.Quantity,
			o.Price.StringFixed(2), string(o.Status),
		).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "orders_order_id_key") {
				return ErrOrderIDTaken
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetOrdersByUser возвращает заказы пользователя, начиная с последних.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, service_name, instagram_username, quantity, price::text, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o      model.Order
			price  string
			status string
		)
		if err := rows.Scan(&o.ID, &o.OrderID, &o.ServiceName, &o.InstagramUsername, &o.Quantity, &price, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		o.UserID = userID
		o.Status = model.OrderStatus(status)
		o.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

const paymentColumns = `id, user_id, amount::text, utr_number, payment_method, action_token, status, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		amount string
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &amount, &p.UTRNumber, &p.PaymentMethod, &p.ActionToken, &status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = model.PaymentStatus(status)
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}

	return &p, nil
}

// CreatePayment создаёт заявку на пополнение в статусе Pending.
func (r *PostgresRepository) CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, utr, method, actionToken string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO payments (user_id, amount, utr_number, payment_method, action_token)
		 VALUES ($1, $2::numeric, $3, $4, $5)
		 RETURNING `+paymentColumns,
		userID, amount.StringFixed(2), utr, method, actionToken,
	)

	p, err := scanPayment(row)
	if err != nil {
		if isUniqueViolation(err, "payments_utr_number_key") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUTR, utr)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return p, nil
}

// GetPaymentsByUser возвращает заявки на пополнение пользователя, начиная с последних.
func (r *PostgresRepository) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}

// ResolvePayment переводит платёж из Pending в Approved или Declined по идентификатору.
func (r *PostgresRepository) ResolvePayment(ctx context.Context, paymentID int64, status model.PaymentStatus) (*model.Payment, error) {
	return r.resolvePayment(ctx, `id = $1`, paymentID, status)
}

// ResolvePaymentByToken переводит платёж из Pending по непрозрачному токену действия.
func (r *PostgresRepository) ResolvePaymentByToken(ctx context.Context, actionToken string, status model.PaymentStatus) (*model.Payment, error) {
	return r.resolvePayment(ctx, `action_token = $1`, actionToken, status)
}

// resolvePayment выполняет переход статуса и зачисление одним юнитом.
// Условие status = 'Pending' в UPDATE гарантирует ровно одно зачисление
// даже при конкурирующих подтверждениях: второй вызов не обновит ни строки.
func (r *PostgresRepository) resolvePayment(ctx context.Context, where string, key any, status model.PaymentStatus) (*model.Payment, error) {
	var resolved *model.Payment

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`UPDATE payments SET status = $2
			 WHERE `+where+` AND status = 'Pending'
			 RETURNING `+paymentColumns,
			key, string(status),
		)

		p, err := scanPayment(row)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("update payment: %w", err)
			}

			var existing string
			checkErr := tx.QueryRow(ctx,
				`SELECT status FROM payments WHERE `+where,
				key,
			).Scan(&existing)
			if errors.Is(checkErr, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			if checkErr != nil {
				return fmt.Errorf("check payment: %w", checkErr)
			}
			return fmt.Errorf("%w: %s", ErrPaymentResolved, existing)
		}

		if status == model.PaymentStatusApproved {
			balance, err := lockWalletBalance(ctx, tx, p.UserID)
			if err != nil {
				return err
			}
			if err := setWalletBalance(ctx, tx, p.UserID, balance.Add(p.Amount)); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		resolved = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// ClaimBonus атомарно выставляет флаг бонуса и зачисляет сумму на кошелёк.
// Повторный вызов возвращает ErrBonusClaimed без зачисления.
func (r *PostgresRepository) ClaimBonus(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockWalletBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE users SET bonus_claimed = TRUE WHERE id = $1 AND NOT bonus_claimed`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("mark bonus claimed: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrBonusClaimed
		}

		newBalance = balance.Add(amount)
		if err := setWalletBalance(ctx, tx, userID, newBalance); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// ClaimDiscount выставляет флаг реферальной скидки ровно один раз.
func (r *PostgresRepository) ClaimDiscount(ctx context.Context, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET has_claimed_discount = TRUE WHERE id = $1 AND NOT has_claimed_discount`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark discount claimed: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
			userID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrDiscountClaimed
	}

	return nil
}

const referralColumns = `id, user_id, referral_code, referred_user_id, is_completed, created_at`

func scanReferral(row pgx.Row) (*model.Referral, error) {
	var ref model.Referral
	err := row.Scan(&ref.ID, &ref.UserID, &ref.ReferralCode, &ref.ReferredUserID, &ref.IsCompleted, &ref.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetPrimaryReferral возвращает первичную реферальную запись аккаунта.
func (r *PostgresRepository) GetPrimaryReferral(ctx context.Context, userID int64) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals
		 WHERE user_id = $1 AND referred_user_id IS NULL`,
		userID,
	)

	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("get primary referral: %w", err)
	}

	return ref, nil
}

// CreatePrimaryReferral создаёт первичную реферальную запись с кодом аккаунта.
// Уникальные индексы закрывают гонку ленивого создания: проигравший вставку
// получает ErrReferralExists и перечитывает существующую запись.
func (r *PostgresRepository) CreatePrimaryReferral(ctx context.Context, userID int64, code string) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO referrals (user_id, referral_code)
		 VALUES ($1, $2)
		 RETURNING `+referralColumns,
		userID, code,
	)

	ref, err := scanReferral(row)
	if err != nil {
		if isUniqueViolation(err, "referrals_code_idx") {
			return nil, ErrReferralCodeTaken
		}
		if isUniqueViolation(err, "referrals_primary_idx") {
			return nil, ErrReferralExists
		}
		return nil, fmt.Errorf("create primary referral: %w", err)
	}

	return ref, nil
}

// GetReferralByCode возвращает первичную реферальную запись по коду.
func (r *PostgresRepository) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals
		 WHERE referral_code = $1 AND referred_user_id IS NULL`,
		code,
	)

	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("get referral by code: %w", err)
	}

	return ref, nil
}

// CreateCompletedReferral фиксирует завершённое приглашение пары
// (реферер, приглашённый). Повторная вставка той же пары упирается
// в уникальный индекс и возвращает ErrAlreadyRedeemed.
func (r *PostgresRepository) CreateCompletedReferral(ctx context.Context, referrerID, referredID int64, code string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO referrals (user_id, referral_code, referred_user_id, is_completed)
		 VALUES ($1, $2, $3, TRUE)`,
		referrerID, code, referredID,
	)
	if err != nil {
		if isUniqueViolation(err, "referrals_completed_idx") {
			return ErrAlreadyRedeemed
		}
		return fmt.Errorf("create completed referral: %w", err)
	}

	return nil
}

// CountCompletedReferrals возвращает число завершённых приглашений реферера.
func (r *PostgresRepository) CountCompletedReferrals(ctx context.Context, referrerID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM referrals
		 WHERE user_id = $1 AND referred_user_id IS NOT NULL AND is_completed`,
		referrerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}

	return count, nil
}
