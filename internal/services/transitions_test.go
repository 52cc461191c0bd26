package services

import (
	"testing"

	m "github.com/servicehub/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition_Grid(t *testing.T) {
	edges := map[[2]m.AppointmentStatus]bool{
		{m.StatusPending, m.StatusAccepted}:                    true,
		{m.StatusPending, m.StatusRejected}:                    true,
		{m.StatusPending, m.StatusCancelled}:                   true,
		{m.StatusAccepted, m.StatusInProgress}:                 true,
		{m.StatusInProgress, m.StatusWorkCompleted}:            true,
		{m.StatusWorkCompleted, m.StatusAwaitingPayment}:       true,
		{m.StatusAwaitingPayment, m.StatusReviewPending}:       true,
		{m.StatusAwaitingPayment, m.StatusCashPayment}:         true,
		{m.StatusCashPayment, m.StatusCashReceived}:            true,
		{m.StatusCashReceived, m.StatusReviewPending}:          true,
		{m.StatusReviewPending, m.StatusProviderReviewPending}: true,
		{m.StatusReviewPending, m.StatusCustomerReviewPending}: true,
		{m.StatusProviderReviewPending, m.StatusCompleted}:     true,
		{m.StatusCustomerReviewPending, m.StatusCompleted}:     true,
	}

	for _, from := range m.AllStatuses {
		for _, to := range m.AllStatuses {
			want := edges[[2]m.AppointmentStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_TerminalStatuses(t *testing.T) {
	for _, s := range []m.AppointmentStatus{m.StatusCompleted, m.StatusCancelled, m.StatusRejected} {
		assert.Empty(t, AllowedTargets(s), s)
	}
}

func TestAllowedTargets(t *testing.T) {
	assert.Equal(t,
		[]m.AppointmentStatus{m.StatusAccepted, m.StatusRejected, m.StatusCancelled},
		AllowedTargets(m.StatusPending))
	assert.Equal(t,
		[]m.AppointmentStatus{m.StatusCashPayment, m.StatusReviewPending},
		AllowedTargets(m.StatusAwaitingPayment))
}

func TestRoleAllowed(t *testing.T) {
	cases := []struct {
		name    string
		current m.AppointmentStatus
		target  m.AppointmentStatus
		role    m.Role
		want    bool
	}{
		{"provider accepts", m.StatusPending, m.StatusAccepted, m.RoleProvider, true},
		{"customer cannot accept", m.StatusPending, m.StatusAccepted, m.RoleCustomer, false},
		{"customer cancels pending", m.StatusPending, m.StatusCancelled, m.RoleCustomer, true},
		{"provider cannot cancel", m.StatusPending, m.StatusCancelled, m.RoleProvider, false},
		{"no cancel after acceptance", m.StatusAccepted, m.StatusCancelled, m.RoleCustomer, false},
		{"provider starts work", m.StatusAccepted, m.StatusInProgress, m.RoleProvider, true},
		{"customer cannot start work", m.StatusAccepted, m.StatusInProgress, m.RoleCustomer, false},
		{"customer chooses cash", m.StatusAwaitingPayment, m.StatusCashPayment, m.RoleCustomer, true},
		{"provider confirms cash", m.StatusCashPayment, m.StatusCashReceived, m.RoleProvider, true},
		{"customer cannot confirm cash", m.StatusCashPayment, m.StatusCashReceived, m.RoleCustomer, false},
		{"customer reviews first", m.StatusReviewPending, m.StatusProviderReviewPending, m.RoleCustomer, true},
		{"provider reviews first", m.StatusReviewPending, m.StatusCustomerReviewPending, m.RoleProvider, true},
		{"provider completes after customer review", m.StatusProviderReviewPending, m.StatusCompleted, m.RoleProvider, true},
		{"customer cannot complete own wait", m.StatusProviderReviewPending, m.StatusCompleted, m.RoleCustomer, false},
		{"customer completes after provider review", m.StatusCustomerReviewPending, m.StatusCompleted, m.RoleCustomer, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, roleAllowed(tc.current, tc.target, tc.role))
		})
	}
}

func TestRequiresReason(t *testing.T) {
	for _, s := range m.AllStatuses {
		want := s == m.StatusCancelled || s == m.StatusRejected
		assert.Equal(t, want, requiresReason(s), s)
	}
}
