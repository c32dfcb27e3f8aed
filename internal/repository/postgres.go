// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/temirlan-k/water-microservice/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если клиент не зарегистрирован.
var (
	ErrUserNotFound = errors.New("user not registered")
	// ErrCourierNotFound возвращается, если курьер не найден.
	ErrCourierNotFound = errors.New("courier not found")
	// ErrCourierExists возвращается при повторной регистрации курьера.
	ErrCourierExists = errors.New("courier already registered")
	// ErrNoCourierInDistrict возвращается, если в районе клиента нет ни одного курьера.
	ErrNoCourierInDistrict = errors.New("no courier available in district")
	// ErrNoMatchingOrder возвращается, если активный заказ для пары клиент-курьер не найден.
	ErrNoMatchingOrder = errors.New("no matching order")
	// ErrCodeNotFound возвращается, если код подтверждения не найден.
	ErrCodeNotFound = errors.New("redemption code not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
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

		// Ретраи полезны для Serialization Failure и Deadlock
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// FindUser возвращает клиента по идентификатору чата.
func (r *PostgresRepository) FindUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, iin, address, phone, district, created_at FROM users WHERE user_id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.IIN, &u.Address, &u.Phone, &u.District, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	return &u, nil
}

// UpsertUser создаёт клиента или обновляет его данные при повторной регистрации.
func (r *PostgresRepository) UpsertUser(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, iin, address, phone, district)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET iin = EXCLUDED.iin,
		     address = EXCLUDED.address,
		     phone = EXCLUDED.phone,
		     district = EXCLUDED.district`,
		u.ID, u.IIN, u.Address, u.Phone, u.District,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// FindCourier возвращает курьера по идентификатору чата.
func (r *PostgresRepository) FindCourier(ctx context.Context, id int64) (*model.Courier, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT telegram_id, full_name, iin, phone_number, address, email, district, created_at
		 FROM couriers WHERE telegram_id = $1`,
		id,
	)

	var c model.Courier
	err := row.Scan(&c.TelegramID, &c.FullName, &c.IIN, &c.Phone, &c.Address, &c.Email, &c.District, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourierNotFound
		}
		return nil, fmt.Errorf("find courier: %w", err)
	}

	return &c, nil
}

// InsertCourier регистрирует нового курьера.
func (r *PostgresRepository) InsertCourier(ctx context.Context, c model.Courier) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO couriers (telegram_id, full_name, iin, phone_number, address, email, district)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.TelegramID, c.FullName, c.IIN, c.Phone, c.Address, c.Email, c.District,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %d", ErrCourierExists, c.TelegramID)
		}
		return fmt.Errorf("insert courier: %w", err)
	}
	return nil
}

// FindCourierByDistrict возвращает первого зарегистрированного курьера в указанном районе.
func (r *PostgresRepository) FindCourierByDistrict(ctx context.Context, district string) (*model.Courier, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT telegram_id, full_name, iin, phone_number, address, email, district, created_at
		 FROM couriers
		 WHERE district = $1
		 ORDER BY created_at, telegram_id
		 LIMIT 1`,
		district,
	)

	var c model.Courier
	err := row.Scan(&c.TelegramID, &c.FullName, &c.IIN, &c.Phone, &c.Address, &c.Email, &c.District, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCourierInDistrict
		}
		return nil, fmt.Errorf("find courier by district: %w", err)
	}

	return &c, nil
}

// UpsertResidents перезаписывает данные о проживающих и выставляет бонусный
// баланс в указанное значение одной транзакцией.
func (r *PostgresRepository) UpsertResidents(ctx context.Context, res model.Residents, balanceCents int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO residents (user_id, adults, children, renters)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET adults = EXCLUDED.adults,
		     children = EXCLUDED.children,
		     renters = EXCLUDED.renters`,
		res.UserID, res.Adults, res.Children, res.Renters,
	)
	if err != nil {
		if isUserFKViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("upsert residents: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bonuses (user_id, balance)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = EXCLUDED.balance`,
		res.UserID, balanceCents,
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBalance возвращает бонусный баланс клиента в сотых долях бутыли.
// Отсутствие строки трактуется как нулевой баланс.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM bonuses WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AddToBalance атомарно увеличивает бонусный баланс клиента и возвращает новое значение.
func (r *PostgresRepository) AddToBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error) {
	var balance int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO bonuses (user_id, balance)
			 VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance = bonuses.balance + EXCLUDED.balance
			 RETURNING balance`,
			userID, deltaCents,
		).Scan(&balance)
	})
	if err != nil {
		if isUserFKViolation(err) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("add to balance: %w", err)
	}
	return balance, nil
}

// DeductFromBalance атомарно уменьшает баланс, не позволяя ему уйти ниже нуля.
func (r *PostgresRepository) DeductFromBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE bonuses
		 SET balance = GREATEST(balance - $2, 0)
		 WHERE user_id = $1
		 RETURNING balance`,
		userID, deltaCents,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("deduct from balance: %w", err)
	}
	return balance, nil
}

// InsertOrder создаёт заказ в статусе new для пары клиент-курьер.
func (r *PostgresRepository) InsertOrder(ctx context.Context, clientID, courierID int64, description string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO orders (client_id, courier_id, description)
		 VALUES ($1, $2, $3)
		 RETURNING id, client_id, courier_id, description, status, created_at, updated_at`,
		clientID, courierID, description,
	)

	var o model.Order
	err := row.Scan(&o.ID, &o.ClientID, &o.CourierID, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	return &o, nil
}

// FindActiveOrder возвращает последний заказ клиента в статусе new.
func (r *PostgresRepository) FindActiveOrder(ctx context.Context, clientID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, client_id, courier_id, description, status, created_at, updated_at
		 FROM orders
		 WHERE client_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		clientID, string(model.OrderStatusNew),
	)

	var o model.Order
	err := row.Scan(&o.ID, &o.ClientID, &o.CourierID, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMatchingOrder
		}
		return nil, fmt.Errorf("find active order: %w", err)
	}

	return &o, nil
}

// InsertOrGetCode возвращает действующий код подтверждения для заказа или
// создаёт новый с указанным сроком жизни. Выдача сериализуется блокировкой
// строки заказа, поэтому два конкурентных запроса не создадут два живых кода.
func (r *PostgresRepository) InsertOrGetCode(ctx context.Context, userID, orderID int64, ttl time.Duration) (*model.RedemptionCode, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMatchingOrder
		}
		return nil, fmt.Errorf("lock order for update: %w", err)
	}

	var c model.RedemptionCode
	err = tx.QueryRow(ctx,
		`SELECT code, user_id, order_id, expires_at, created_at
		 FROM qr_codes
		 WHERE order_id = $1 AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT 1`,
		orderID,
	).Scan(&c.Code, &c.UserID, &c.OrderID, &c.ExpiresAt, &c.CreatedAt)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select live code: %w", err)
	}

	code := uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)
	err = tx.QueryRow(ctx,
		`INSERT INTO qr_codes (code, user_id, order_id, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING code, user_id, order_id, expires_at, created_at`,
		code, userID, orderID, expiresAt,
	).Scan(&c.Code, &c.UserID, &c.OrderID, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &c, nil
}

// FindCode возвращает код подтверждения по его значению.
func (r *PostgresRepository) FindCode(ctx context.Context, code string) (*model.RedemptionCode, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT code, user_id, order_id, expires_at, created_at FROM qr_codes WHERE code = $1`,
		code,
	)

	var c model.RedemptionCode
	err := row.Scan(&c.Code, &c.UserID, &c.OrderID, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("find code: %w", err)
	}

	return &c, nil
}

// CompleteOrder переводит заказ new в done и обнуляет бонусный баланс клиента
// в той же транзакции. Заказ должен быть закреплён за указанным курьером.
// Перевод статуса выполняется условным обновлением, поэтому повторное
// подтверждение того же заказа вернёт ErrNoMatchingOrder и не тронет баланс.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID, courierID int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var clientID int64
		err = tx.QueryRow(ctx,
			`UPDATE orders
			 SET status = $3, updated_at = now()
			 WHERE id = (
			     SELECT id FROM orders
			     WHERE id = $1 AND courier_id = $2 AND status = $4
			     FOR UPDATE
			 ) AND status = $4
			 RETURNING client_id`,
			orderID, courierID, string(model.OrderStatusDone), string(model.OrderStatusNew),
		).Scan(&clientID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoMatchingOrder
			}
			return fmt.Errorf("complete order: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO bonuses (user_id, balance)
			 VALUES ($1, 0)
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance = 0`,
			clientID,
		)
		if err != nil {
			return fmt.Errorf("zero balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func isUserFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
