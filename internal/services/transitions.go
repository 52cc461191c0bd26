package services

import (
	m "github.com/servicehub/backend/internal/models"
)

// Transitions is the appointment state machine: current status to the set
// of statuses it may move to. The awaiting_payment -> review_pending edge is
// taken by PayWithWallet and PayWithCard; Transition refuses it with
// ErrPaymentRequired.
var Transitions = map[m.AppointmentStatus]map[m.AppointmentStatus]bool{
	m.StatusPending:               {m.StatusAccepted: true, m.StatusRejected: true, m.StatusCancelled: true},
	m.StatusAccepted:              {m.StatusInProgress: true},
	m.StatusInProgress:            {m.StatusWorkCompleted: true},
	m.StatusWorkCompleted:         {m.StatusAwaitingPayment: true},
	m.StatusAwaitingPayment:       {m.StatusReviewPending: true, m.StatusCashPayment: true},
	m.StatusCashPayment:           {m.StatusCashReceived: true},
	m.StatusCashReceived:          {m.StatusReviewPending: true},
	m.StatusReviewPending:         {m.StatusProviderReviewPending: true, m.StatusCustomerReviewPending: true},
	m.StatusProviderReviewPending: {m.StatusCompleted: true},
	m.StatusCustomerReviewPending: {m.StatusCompleted: true},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to m.AppointmentStatus) bool {
	return Transitions[from][to]
}

// AllowedTargets lists the legal targets of from in lifecycle order.
func AllowedTargets(from m.AppointmentStatus) []m.AppointmentStatus {
	var out []m.AppointmentStatus
	for _, s := range m.AllStatuses {
		if Transitions[from][s] {
			out = append(out, s)
		}
	}
	return out
}

// targetRoles restricts who may request a target status.
var targetRoles = map[m.AppointmentStatus]m.Role{
	m.StatusCancelled:     m.RoleCustomer,
	m.StatusAccepted:      m.RoleProvider,
	m.StatusRejected:      m.RoleProvider,
	m.StatusInProgress:    m.RoleProvider,
	m.StatusWorkCompleted: m.RoleProvider,
	m.StatusReviewPending: m.RoleCustomer,
	m.StatusCashPayment:   m.RoleCustomer,
	m.StatusCashReceived:  m.RoleProvider,

	// The party who reviews first moves the appointment to waiting on the other.
	m.StatusProviderReviewPending: m.RoleCustomer,
	m.StatusCustomerReviewPending: m.RoleProvider,
}

// completedBy is the party whose review a *_review_pending status waits on.
var completedBy = map[m.AppointmentStatus]m.Role{
	m.StatusProviderReviewPending: m.RoleProvider,
	m.StatusCustomerReviewPending: m.RoleCustomer,
}

// roleAllowed applies the role gates on top of the transition table.
func roleAllowed(current, target m.AppointmentStatus, role m.Role) bool {
	if target == m.StatusCompleted {
		return completedBy[current] == role
	}
	if target == m.StatusCancelled && current != m.StatusPending {
		return false
	}
	required, gated := targetRoles[target]
	return !gated || required == role
}

// requiresReason reports whether target must carry a non-empty reason.
func requiresReason(target m.AppointmentStatus) bool {
	return target == m.StatusCancelled || target == m.StatusRejected
}
