package models

import "strings"

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

// ParseRole case-normalizes a role string.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// User is the read-only profile data the ledger and appointments depend on.
type User struct {
	ID                string     `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	PhoneNumber       string     `json:"phone_number" db:"phone_number"`
	Status            UserStatus `json:"status" db:"status"`
	HourlyRate        Cents      `json:"hourly_rate" db:"hourly_rate"`
	PayoutDestination string     `json:"-" db:"payout_destination"`
}

func (u *User) Active() bool {
	return u.Status == UserActive
}
