package model

import "time"

// DefaultRequestLimit is the request limit assigned when a caller does not
// supply one.
const DefaultRequestLimit = 1000

// APIKey is a key record owned by a signed-in user. Unlike a hashed gateway
// credential, the secret is stored in the clear so its owner can reveal and
// copy it again; presentation layers mask it by default.
type APIKey struct {
	ID           string    `json:"id" db:"id"`
	OwnerID      string    `json:"-" db:"owner_id"`
	Name         string    `json:"name" db:"name"`
	Secret       string    `json:"key" db:"secret"`
	Usage        int64     `json:"usage" db:"usage_count"`
	RequestLimit int       `json:"request_limit" db:"request_limit"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// KeyUpdate is a partial update of a key record. Nil fields are left
// unchanged.
type KeyUpdate struct {
	Name         *string
	RequestLimit *int
}

// IsEmpty reports whether the update carries no fields.
func (u KeyUpdate) IsEmpty() bool {
	return u.Name == nil && u.RequestLimit == nil
}
