package model

import "time"

// User is an identity established through an OAuth sign-in. A user is unique
// per (provider, subject) pair.
type User struct {
	ID          string    `json:"id" db:"id"`
	Provider    string    `json:"provider" db:"provider"`
	Subject     string    `json:"-" db:"subject"`
	Email       string    `json:"email" db:"email"`
	Name        string    `json:"name" db:"name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	LastLoginAt time.Time `json:"last_login_at" db:"last_login_at"`
}
