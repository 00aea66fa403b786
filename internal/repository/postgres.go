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
	"github.com/mmeshcher/bikerent-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRiderNotFound возвращается, если велосипедист не найден.
var (
	ErrRiderNotFound = errors.New("rider not found")
	// ErrRiderExists возвращается при попытке создать велосипедиста с уже занятым email.
	ErrRiderExists = errors.New("rider already exists")
	// ErrRiderAlreadyRenting возвращается, если у велосипедиста уже есть открытая аренда.
	ErrRiderAlreadyRenting = errors.New("rider already has an open rental")
	// ErrBicycleAlreadyRented возвращается, если велосипед уже числится в открытой аренде.
	ErrBicycleAlreadyRented = errors.New("bicycle already rented")
	// ErrNoOpenRental возвращается, если открытая аренда не найдена.
	ErrNoOpenRental = errors.New("no open rental")
	// ErrRentalClosed возвращается при попытке закрыть уже закрытую аренду.
	ErrRentalClosed = errors.New("rental already closed")
	// ErrCardNotFound возвращается, если у велосипедиста не сохранена карта.
	ErrCardNotFound = errors.New("credit card not found")
)

const rentalColumns = `id, rider_id, bicycle_id, start_lock_id, start_time, end_lock_id, end_time, charge_id`

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

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
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

// CreateRider создаёт нового велосипедиста со статусом AWAITING_CONFIRMATION.
func (r *PostgresRepository) CreateRider(ctx context.Context, name, email string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO riders (name, email, status) VALUES ($1, $2, $3) RETURNING id`,
		name, email, string(model.RiderStatusAwaitingConfirmation),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrRiderExists, email)
		}
		return 0, fmt.Errorf("create rider: %w", err)
	}
	return id, nil
}

// GetRiderByID возвращает велосипедиста по идентификатору.
func (r *PostgresRepository) GetRiderByID(ctx context.Context, id int64) (*model.Rider, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, status, created_at FROM riders WHERE id = $1`,
		id,
	)

	var rd model.Rider
	err := row.Scan(&rd.ID, &rd.Name, &rd.Email, &rd.Status, &rd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRiderNotFound
		}
		return nil, fmt.Errorf("get rider: %w", err)
	}

	return &rd, nil
}

// UpdateRiderStatus изменяет статус велосипедиста.
func (r *PostgresRepository) UpdateRiderStatus(ctx context.Context, id int64, status model.RiderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE riders SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update rider status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRiderNotFound
	}
	return nil
}

// SaveCreditCard сохраняет карту велосипедиста, заменяя предыдущую.
func (r *PostgresRepository) SaveCreditCard(ctx context.Context, card model.CreditCard) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credit_cards (rider_id, holder, number, validity, security_code)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (rider_id) DO UPDATE
		 SET holder = EXCLUDED.holder,
		     number = EXCLUDED.number,
		     validity = EXCLUDED.validity,
		     security_code = EXCLUDED.security_code`,
		card.RiderID, card.Holder, card.Number, card.Validity, card.SecurityCode,
	)
	if err != nil {
		return fmt.Errorf("save credit card: %w", err)
	}
	return nil
}

// GetCreditCard возвращает сохранённую карту велосипедиста.
func (r *PostgresRepository) GetCreditCard(ctx context.Context, riderID int64) (*model.CreditCard, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT rider_id, holder, number, validity, security_code FROM credit_cards WHERE rider_id = $1`,
		riderID,
	)

	var c model.CreditCard
	err := row.Scan(&c.RiderID, &c.Holder, &c.Number, &c.Validity, &c.SecurityCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("get credit card: %w", err)
	}

	return &c, nil
}

func scanRental(row pgx.Row) (*model.Rental, error) {
	var rt model.Rental
	err := row.Scan(
		&rt.ID, &rt.RiderID, &rt.BicycleID, &rt.StartLockID, &rt.StartTime,
		&rt.EndLockID, &rt.EndTime, &rt.ChargeID,
	)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// GetOpenRentalByRider возвращает открытую аренду велосипедиста.
func (r *PostgresRepository) GetOpenRentalByRider(ctx context.Context, riderID int64) (*model.Rental, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+rentalColumns+` FROM rentals WHERE rider_id = $1 AND end_time IS NULL`,
		riderID,
	)

	rt, err := scanRental(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenRental
		}
		return nil, fmt.Errorf("get open rental by rider: %w", err)
	}

	return rt, nil
}

// GetOpenRentalByBicycle возвращает открытую аренду по велосипеду.
func (r *PostgresRepository) GetOpenRentalByBicycle(ctx context.Context, bicycleID int64) (*model.Rental, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+rentalColumns+` FROM rentals WHERE bicycle_id = $1 AND end_time IS NULL`,
		bicycleID,
	)

	rt, err := scanRental(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenRental
		}
		return nil, fmt.Errorf("get open rental by bicycle: %w", err)
	}

	return rt, nil
}

// CreateRental создаёт новую открытую аренду. Частичные уникальные индексы
// гарантируют не более одной открытой аренды на велосипедиста и на
// велосипед даже при конкурентных запросах.
func (r *PostgresRepository) CreateRental(ctx context.Context, riderID, bicycleID, startLockID int64, startTime time.Time, chargeID int64) (*model.Rental, error) {
	var rt *model.Rental

	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO rentals (rider_id, bicycle_id, start_lock_id, start_time, charge_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+rentalColumns,
			riderID, bicycleID, startLockID, startTime, chargeID,
		)

		var scanErr error
		rt, scanErr = scanRental(row)
		return scanErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "uq_rentals_open_rider":
				return nil, ErrRiderAlreadyRenting
			case "uq_rentals_open_bicycle":
				return nil, ErrBicycleAlreadyRented
			}
		}
		return nil, fmt.Errorf("create rental: %w", err)
	}

	return rt, nil
}

// CloseRental закрывает открытую аренду, выставляя замок и время возврата.
// Идентификатор платежа за превышение времени перезаписывает исходный;
// nil означает, что доплата не начислялась.
func (r *PostgresRepository) CloseRental(ctx context.Context, rentalID int64, endLockID int64, endTime time.Time, chargeID *int64) (*model.Rental, error) {
	var rt *model.Rental

	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`UPDATE rentals
			 SET end_lock_id = $2, end_time = $3, charge_id = $4
			 WHERE id = $1 AND end_time IS NULL
			 RETURNING `+rentalColumns,
			rentalID, endLockID, endTime, chargeID,
		)

		var scanErr error
		rt, scanErr = scanRental(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRentalClosed
		}
		return nil, fmt.Errorf("close rental: %w", err)
	}

	return rt, nil
}

// Restore очищает все данные и заполняет хранилище тестовым набором.
// Используется служебным эндпоинтом восстановления; порядок удаления —
// от зависимых таблиц к родительским.
func (r *PostgresRepository) Restore(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"rentals", "credit_cards", "riders"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	seed := []struct {
		name   string
		email  string
		status model.RiderStatus
	}{
		{"Fulano Beltrano", "user@example.org", model.RiderStatusActive},
		{"Fulano Beltrano", "user2@example.org", model.RiderStatusAwaitingConfirmation},
		{"Fulano Beltrano", "user3@example.org", model.RiderStatusActive},
		{"Fulano Beltrano", "user4@example.org", model.RiderStatusInactive},
	}

	for _, s := range seed {
		_, err := tx.Exec(ctx,
			`INSERT INTO riders (name, email, status) VALUES ($1, $2, $3)`,
			s.name, s.email, string(s.status),
		)
		if err != nil {
			return fmt.Errorf("seed rider %s: %w", s.email, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
