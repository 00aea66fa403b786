// Package service реализует бизнес-логику сервиса проката велосипедов:
// машину состояний аренды и возврата, расчёт доплаты за превышение
// времени и регистрацию велосипедистов.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bikerent-system/internal/model"
	"github.com/mmeshcher/bikerent-system/internal/repository"
	"github.com/mmeshcher/bikerent-system/internal/validation"
)

// ErrRiderNotEligible возвращается, если велосипедист не найден или не активен.
var (
	ErrRiderNotEligible = errors.New("rider not found or not active")
	// ErrRiderAlreadyRenting возвращается, если у велосипедиста уже есть открытая аренда.
	ErrRiderAlreadyRenting = errors.New("rider already has an open rental")
	// ErrBicycleUnavailable возвращается, если в замке нет доступного велосипеда.
	ErrBicycleUnavailable = errors.New("bicycle unavailable or lock empty")
	// ErrPaymentDeclined возвращается, если стартовый платёж не прошёл.
	ErrPaymentDeclined = errors.New("payment not authorized")
	// ErrNoActiveRental возвращается при возврате велосипеда без открытой аренды.
	ErrNoActiveRental = errors.New("no active rental for bicycle")
	// ErrCardDeclined возвращается, если платёжные данные не прошли проверку.
	ErrCardDeclined = errors.New("credit card declined")
)

const (
	// initialFeeCents — фиксированная стартовая плата за аренду.
	initialFeeCents = 1000
	// freeMinutes — бесплатный лимит времени аренды.
	freeMinutes = 120
	// overstayBlockMinutes — размер тарифицируемого блока сверх лимита.
	overstayBlockMinutes = 30
	// overstayBlockFeeCents — стоимость одного блока сверх лимита.
	overstayBlockFeeCents = 500

	defaultGatewayTimeout = 5 * time.Second
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateRider(ctx context.Context, name, email string) (int64, error)
	GetRiderByID(ctx context.Context, id int64) (*model.Rider, error)
	UpdateRiderStatus(ctx context.Context, id int64, status model.RiderStatus) error
	SaveCreditCard(ctx context.Context, card model.CreditCard) error
	GetCreditCard(ctx context.Context, riderID int64) (*model.CreditCard, error)
	GetOpenRentalByRider(ctx context.Context, riderID int64) (*model.Rental, error)
	GetOpenRentalByBicycle(ctx context.Context, bicycleID int64) (*model.Rental, error)
	CreateRental(ctx context.Context, riderID, bicycleID, startLockID int64, startTime time.Time, chargeID int64) (*model.Rental, error)
	CloseRental(ctx context.Context, rentalID int64, endLockID int64, endTime time.Time, chargeID *int64) (*model.Rental, error)
	Restore(ctx context.Context) error
}

// EquipmentGateway описывает контракт реестра оборудования.
type EquipmentGateway interface {
	BicycleAtLock(ctx context.Context, lockID int64) (*model.Bicycle, error)
	Unlock(ctx context.Context, lockID int64) error
	Lock(ctx context.Context, lockID, bicycleID int64) error
	SetBicycleStatus(ctx context.Context, bicycleID int64, status model.BicycleStatus) error
}

// BillingGateway описывает контракт внешнего сервиса платежей и уведомлений.
type BillingGateway interface {
	Charge(ctx context.Context, amountCents, riderID int64) (*model.Charge, error)
	EnqueueCharge(ctx context.Context, amountCents, riderID int64) (*model.Charge, error)
	SendEmail(ctx context.Context, email, subject, body string) error
	ValidateCard(ctx context.Context, number, validity, securityCode string) (bool, error)
}

// Service содержит бизнес-логику сервиса проката велосипедов.
type Service struct {
	repo           Repository
	equipment      EquipmentGateway
	billing        BillingGateway
	logger         *zap.Logger
	gatewayTimeout time.Duration
}

// NewService создаёт новый сервис с указанным репозиторием и шлюзами.
// gatewayTimeout ограничивает каждое обращение к шлюзам; нулевое значение
// заменяется умолчанием.
func NewService(repo Repository, equipment EquipmentGateway, billing BillingGateway, logger *zap.Logger, gatewayTimeout time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	return &Service{
		repo:           repo,
		equipment:      equipment,
		billing:        billing,
		logger:         logger,
		gatewayTimeout: gatewayTimeout,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

// StartRental выполняет аренду велосипеда. Предусловия проверяются по
// порядку, срабатывает первая нарушенная: велосипедист активен, не имеет
// открытой аренды, в замке есть доступный велосипед, стартовый платёж
// подтверждён. После сохранения аренды открытие замка и письмо
// выполняются без гарантий и не откатывают аренду.
func (s *Service) StartRental(ctx context.Context, riderID, startLockID int64) (*model.Rental, error) {
	rider, err := s.repo.GetRiderByID(ctx, riderID)
	if err != nil {
		if errors.Is(err, repository.ErrRiderNotFound) {
			return nil, ErrRiderNotEligible
		}
		return nil, err
	}
	if rider.Status != model.RiderStatusActive {
		return nil, ErrRiderNotEligible
	}

	_, err = s.repo.GetOpenRentalByRider(ctx, riderID)
	if err == nil {
		return nil, ErrRiderAlreadyRenting
	}
	if !errors.Is(err, repository.ErrNoOpenRental) {
		return nil, err
	}

	bctx, cancel := s.gatewayCtx(ctx)
	bicycle, err := s.equipment.BicycleAtLock(bctx, startLockID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBicycleUnavailable, err)
	}
	if bicycle == nil || bicycle.Status != model.BicycleStatusAvailable {
		return nil, ErrBicycleUnavailable
	}

	cctx, cancel := s.gatewayCtx(ctx)
	charge, err := s.billing.Charge(cctx, initialFeeCents, riderID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}
	if charge.Status != model.ChargeStatusPaid {
		return nil, ErrPaymentDeclined
	}

	rental, err := s.repo.CreateRental(ctx, riderID, bicycle.ID, startLockID, time.Now(), charge.ID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRiderAlreadyRenting):
			return nil, ErrRiderAlreadyRenting
		case errors.Is(err, repository.ErrBicycleAlreadyRented):
			return nil, ErrBicycleUnavailable
		}
		return nil, err
	}

	// Аренда зафиксирована, дальнейшие шаги её не откатывают.
	uctx, cancel := s.gatewayCtx(ctx)
	if err := s.equipment.Unlock(uctx, startLockID); err != nil {
		s.logger.Warn("unlock failed",
			zap.Error(err), zap.Int64("lockID", startLockID), zap.Int64("rentalID", rental.ID))
	}
	cancel()

	s.sendEmail(ctx, rider.Email,
		"Rental confirmed",
		fmt.Sprintf("Hello, %s. Your rental of bicycle %d has been registered.", rider.Name, rental.BicycleID),
	)

	return rental, nil
}

// ReturnRental выполняет возврат велосипеда: находит открытую аренду,
// начисляет доплату за превышение времени (сбой постановки в очередь не
// блокирует возврат) и закрывает аренду. Закрытие замка, смена статуса
// велосипеда и письмо выполняются без гарантий.
func (s *Service) ReturnRental(ctx context.Context, bicycleID, endLockID int64) (*model.Rental, error) {
	rental, err := s.repo.GetOpenRentalByBicycle(ctx, bicycleID)
	if err != nil {
		if errors.Is(err, repository.ErrNoOpenRental) {
			return nil, ErrNoActiveRental
		}
		return nil, err
	}

	endTime := time.Now()
	feeCents := OverstayFeeCents(rental.StartTime, endTime)

	var chargeID *int64
	if feeCents > 0 {
		qctx, cancel := s.gatewayCtx(ctx)
		charge, err := s.billing.EnqueueCharge(qctx, feeCents, rental.RiderID)
		cancel()
		if err != nil {
			// Возврат уже физически произошёл, сбой оплаты его не блокирует.
			s.logger.Warn("enqueue overstay charge failed",
				zap.Error(err), zap.Int64("rentalID", rental.ID), zap.Int64("feeCents", feeCents))
		} else {
			chargeID = &charge.ID
		}
	}

	closed, err := s.repo.CloseRental(ctx, rental.ID, endLockID, endTime, chargeID)
	if err != nil {
		if errors.Is(err, repository.ErrRentalClosed) {
			return nil, ErrNoActiveRental
		}
		return nil, err
	}

	lctx, cancel := s.gatewayCtx(ctx)
	if err := s.equipment.Lock(lctx, endLockID, closed.BicycleID); err != nil {
		s.logger.Warn("lock failed",
			zap.Error(err), zap.Int64("lockID", endLockID), zap.Int64("bicycleID", closed.BicycleID))
	}
	cancel()

	sctx, cancel := s.gatewayCtx(ctx)
	if err := s.equipment.SetBicycleStatus(sctx, closed.BicycleID, model.BicycleStatusAvailable); err != nil {
		s.logger.Warn("set bicycle status failed",
			zap.Error(err), zap.Int64("bicycleID", closed.BicycleID))
	}
	cancel()

	rider, err := s.repo.GetRiderByID(ctx, closed.RiderID)
	if err != nil {
		s.logger.Warn("get rider for return email failed",
			zap.Error(err), zap.Int64("riderID", closed.RiderID))
		return closed, nil
	}

	body := "Your bicycle has been returned."
	if feeCents > 0 {
		body += fmt.Sprintf(" An extra fee of %.2f was charged.", float64(feeCents)/100)
	}
	s.sendEmail(ctx, rider.Email, "Return completed", body)

	return closed, nil
}

// sendEmail отправляет письмо без гарантий доставки, сбой только логируется.
func (s *Service) sendEmail(ctx context.Context, email, subject, body string) {
	ectx, cancel := s.gatewayCtx(ctx)
	defer cancel()

	if err := s.billing.SendEmail(ectx, email, subject, body); err != nil {
		s.logger.Warn("send email failed", zap.Error(err), zap.String("subject", subject))
	}
}

// OverstayFeeCents вычисляет доплату за превышение времени аренды.
// Первые 120 минут бесплатны, дальше каждый начатый 30-минутный блок
// стоит 500 копеек.
func OverstayFeeCents(start, end time.Time) int64 {
	totalMinutes := int64(end.Sub(start) / time.Minute)
	if totalMinutes <= freeMinutes {
		return 0
	}

	extra := totalMinutes - freeMinutes
	periods := (extra + overstayBlockMinutes - 1) / overstayBlockMinutes
	return periods * overstayBlockFeeCents
}

// NewRider содержит данные регистрации велосипедиста.
type NewRider struct {
	Name         string
	Email        string
	CardHolder   string
	CardNumber   string
	CardValidity string
	CardCVV      string
}

// RegisterRider регистрирует велосипедиста со статусом
// AWAITING_CONFIRMATION после проверки платёжных данных.
func (s *Service) RegisterRider(ctx context.Context, nr NewRider) (*model.Rider, error) {
	if !validation.IsValidCardNumber(nr.CardNumber) {
		return nil, ErrCardDeclined
	}

	vctx, cancel := s.gatewayCtx(ctx)
	ok, err := s.billing.ValidateCard(vctx, nr.CardNumber, nr.CardValidity, nr.CardCVV)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("validate card: %w", err)
	}
	if !ok {
		return nil, ErrCardDeclined
	}

	id, err := s.repo.CreateRider(ctx, nr.Name, nr.Email)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveCreditCard(ctx, model.CreditCard{
		RiderID:      id,
		Holder:       nr.CardHolder,
		Number:       nr.CardNumber,
		Validity:     nr.CardValidity,
		SecurityCode: nr.CardCVV,
	}); err != nil {
		return nil, err
	}

	s.sendEmail(ctx, nr.Email,
		"Confirm your registration",
		fmt.Sprintf("Hello, %s. Confirm your email to activate the account.", nr.Name),
	)

	return s.repo.GetRiderByID(ctx, id)
}

// ActivateRider переводит велосипедиста в статус ACTIVE.
func (s *Service) ActivateRider(ctx context.Context, id int64) (*model.Rider, error) {
	if err := s.repo.UpdateRiderStatus(ctx, id, model.RiderStatusActive); err != nil {
		return nil, err
	}
	return s.repo.GetRiderByID(ctx, id)
}

// GetRider возвращает велосипедиста по идентификатору.
func (s *Service) GetRider(ctx context.Context, id int64) (*model.Rider, error) {
	return s.repo.GetRiderByID(ctx, id)
}

// GetCreditCard возвращает карту велосипедиста.
func (s *Service) GetCreditCard(ctx context.Context, riderID int64) (*model.CreditCard, error) {
	if _, err := s.repo.GetRiderByID(ctx, riderID); err != nil {
		return nil, err
	}
	return s.repo.GetCreditCard(ctx, riderID)
}

// AllowedToRent сообщает, может ли велосипедист взять велосипед:
// статус ACTIVE и нет открытой аренды.
func (s *Service) AllowedToRent(ctx context.Context, id int64) (bool, error) {
	rider, err := s.repo.GetRiderByID(ctx, id)
	if err != nil {
		return false, err
	}
	if rider.Status != model.RiderStatusActive {
		return false, nil
	}

	_, err = s.repo.GetOpenRentalByRider(ctx, id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNoOpenRental) {
		return false, err
	}

	return true, nil
}

// Restore очищает хранилище и заполняет его тестовым набором данных.
func (s *Service) Restore(ctx context.Context) error {
	return s.repo.Restore(ctx)
}
