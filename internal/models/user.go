package models

import "time"

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// UnlimitedSpending reports whether debits clamp at zero instead of failing.
func (r Role) UnlimitedSpending() bool {
	return r == RoleInstructor || r == RoleAdmin
}

func (r Role) IsStaff() bool {
	return r == RoleInstructor || r == RoleAdmin
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// StatKind selects which statistics counter a bump targets.
type StatKind string

const (
	StatTransfersSent     StatKind = "transfers_sent"
	StatTransfersReceived StatKind = "transfers_received"
	StatGoalsCompleted    StatKind = "goals_completed"
	StatCoinsEarned       StatKind = "coins_earned"
	StatLoginStreak       StatKind = "login_streak"
	StatProfilePhoto      StatKind = "profile_photo"
)

// Statistics feed achievement evaluation. All counters are monotonically
// non-decreasing except LoginStreak, which is replaced on each daily login.
type Statistics struct {
	TransfersSent     int32     `json:"transfers_sent"`
	TransfersReceived int32     `json:"transfers_received"`
	GoalsCompleted    int32     `json:"goals_completed"`
	CoinsEarned       int32     `json:"coins_earned"`
	LoginStreak       int32     `json:"login_streak"`
	LastStreakLogin   time.Time `json:"last_streak_login"`
	HasProfilePhoto   bool      `json:"has_profile_photo"`
}

type User struct {
	ID           int32          `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	Role         Role           `json:"role"`
	Approval     ApprovalStatus `json:"approval_status"`
	Balance      int32          `json:"balance"`
	PhotoRef     string         `json:"photo_ref,omitempty"`
	Active       bool           `json:"active"`
	Stats        Statistics     `json:"statistics"`
	LastLogin    time.Time      `json:"last_login"`
	CreatedAt    time.Time      `json:"created_at"`
}
