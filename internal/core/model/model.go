package model

import (
	"slices"
	"time"
)

// AttendanceType is the kind of an attendance record.
type AttendanceType string

const (
	ClockIn  AttendanceType = "clock_in"
	ClockOut AttendanceType = "clock_out"
)

// Roles a member can hold within a company.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// PasswordProvider identifies email/password credentials.
const PasswordProvider = "password"

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UID           string   `json:"uid"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"emailVerified"`
	Providers     []string `json:"providers"`
}

// Verified reports whether the identity's contact channel is confirmed.
// Identities without a password credential are always verified.
func (i *Identity) Verified() bool {
	if i == nil {
		return false
	}
	return !slices.Contains(i.Providers, PasswordProvider) || i.EmailVerified
}

// Account is the users/{uid} document.
type Account struct {
	UserName  string `json:"userName"`
	CompanyID string `json:"companyId"`
	Role      string `json:"role,omitempty"`
}

// Company is the companies/{id} document.
type Company struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"inviteCode"`
	OwnerUID   string    `json:"ownerUid"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AttendanceRecord struct {
	ID        int64          `json:"id"`
	UID       string         `json:"uid"`
	CompanyID string         `json:"companyId"`
	Type      AttendanceType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
}
