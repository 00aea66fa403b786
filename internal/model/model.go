// Package model содержит доменные сущности сервиса проката велосипедов.
package model

import "time"

// RiderStatus описывает статус велосипедиста в системе.
type RiderStatus string

const (
	RiderStatusAwaitingConfirmation RiderStatus = "AWAITING_CONFIRMATION"
	RiderStatusActive               RiderStatus = "ACTIVE"
	RiderStatusInactive             RiderStatus = "INACTIVE"
)

// Rider представляет зарегистрированного велосипедиста.
type Rider struct {
	ID        int64
	Name      string
	Email     string
	Status    RiderStatus
	CreatedAt time.Time
}

// CreditCard содержит платёжные данные велосипедиста. Хранится одна карта
// на велосипедиста.
type CreditCard struct {
	RiderID      int64
	Holder       string
	Number       string
	Validity     string
	SecurityCode string
}

// Rental описывает аренду: велосипедист занимает велосипед от стартового
// замка до момента возврата. Поля EndLockID и EndTime заполняются ровно
// один раз при возврате; открытая аренда имеет EndTime == nil.
type Rental struct {
	ID          int64
	RiderID     int64
	BicycleID   int64
	StartLockID int64
	StartTime   time.Time
	EndLockID   *int64
	EndTime     *time.Time
	ChargeID    *int64
}

// Open сообщает, является ли аренда открытой (велосипед ещё не возвращён).
func (r *Rental) Open() bool {
	return r.EndTime == nil
}

// ChargeStatus описывает статус платежа во внешней системе.
type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "PENDING"
	ChargeStatusPaid    ChargeStatus = "PAID"
	ChargeStatusFailed  ChargeStatus = "FAILED"
)

// Charge описывает платёж, созданный внешней системой. Сервис проката
// хранит только идентификатор, остальные поля читаются из ответа шлюза.
type Charge struct {
	ID          int64
	Status      ChargeStatus
	ValueCents  int64
	RiderID     int64
	RequestedAt time.Time
}

// BicycleStatus описывает статус велосипеда в реестре оборудования.
type BicycleStatus string

const (
	BicycleStatusAvailable BicycleStatus = "AVAILABLE"
	BicycleStatusInUse     BicycleStatus = "IN_USE"
	BicycleStatusRepair    BicycleStatus = "REPAIR"
)

// Bicycle — снимок состояния велосипеда, полученный от реестра
// оборудования. Локально не хранится.
type Bicycle struct {
	ID     int64
	Model  string
	Status BicycleStatus
}
