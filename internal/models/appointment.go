package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusPending               AppointmentStatus = "pending"
	StatusAccepted              AppointmentStatus = "accepted"
	StatusRejected              AppointmentStatus = "rejected"
	StatusCancelled             AppointmentStatus = "cancelled"
	StatusInProgress            AppointmentStatus = "in_progress"
	StatusWorkCompleted         AppointmentStatus = "work_completed"
	StatusAwaitingPayment       AppointmentStatus = "awaiting_payment"
	StatusCashPayment           AppointmentStatus = "cashPayment"
	StatusCashReceived          AppointmentStatus = "cashReceived"
	StatusReviewPending         AppointmentStatus = "review_pending"
	StatusProviderReviewPending AppointmentStatus = "provider_review_pending"
	StatusCustomerReviewPending AppointmentStatus = "customer_review_pending"
	StatusCompleted             AppointmentStatus = "completed"
)

// AllStatuses lists every appointment status in lifecycle order.
var AllStatuses = []AppointmentStatus{
	StatusPending,
	StatusAccepted,
	StatusRejected,
	StatusCancelled,
	StatusInProgress,
	StatusWorkCompleted,
	StatusAwaitingPayment,
	StatusCashPayment,
	StatusCashReceived,
	StatusReviewPending,
	StatusProviderReviewPending,
	StatusCustomerReviewPending,
	StatusCompleted,
}

func (s AppointmentStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

type PaymentMethod string

const (
	PaymentNone   PaymentMethod = ""
	PaymentWallet PaymentMethod = "wallet"
	PaymentCard   PaymentMethod = "card"
	PaymentCash   PaymentMethod = "cash"
)

// Appointment is a booking of a provider by a customer.
type Appointment struct {
	ID              string            `json:"id" db:"id"`
	CustomerID      string            `json:"customer_id" db:"customer_id"`
	ProviderID      string            `json:"provider_id" db:"provider_id"`
	Service         string            `json:"service" db:"service"`
	Date            time.Time         `json:"date" db:"date"`
	StartTime       time.Time         `json:"start_time" db:"start_time"`
	EndTime         time.Time         `json:"end_time" db:"end_time"`
	ActualStartTime *time.Time        `json:"actual_start_time,omitempty" db:"actual_start_time"`
	ActualEndTime   *time.Time        `json:"actual_end_time,omitempty" db:"actual_end_time"`
	Status          AppointmentStatus `json:"status" db:"status"`
	TotalWorkedTime decimal.Decimal   `json:"total_worked_time" db:"total_worked_time"` // hours
	TotalCost       Cents             `json:"total_cost" db:"total_cost"`
	PaymentMethod   PaymentMethod     `json:"payment_method,omitempty" db:"payment_method"`
	Reason          string            `json:"reason,omitempty" db:"reason"`
	Version         int               `json:"-" db:"version"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Party reports whether userID is the customer or provider of the appointment.
func (a *Appointment) Party(userID string) (Role, bool) {
	switch userID {
	case a.CustomerID:
		return RoleCustomer, true
	case a.ProviderID:
		return RoleProvider, true
	}
	return "", false
}

// Counterpart returns the other party of the appointment.
func (a *Appointment) Counterpart(userID string) string {
	if userID == a.CustomerID {
		return a.ProviderID
	}
	return a.CustomerID
}
