package users

import (
	"time"

	"github.com/google/uuid"
)

const DefaultTimezone = "Asia/Jakarta"

type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Name          *string   `json:"name"`
	Timezone      string    `json:"timezone"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DisplayName returns the user's name or fallback when none is set.
func (u *User) DisplayName(fallback string) string {
	if u == nil || u.Name == nil || *u.Name == "" {
		return fallback
	}
	return *u.Name
}

// UpsertParams identifies a user by wallet. Nil fields keep stored values.
type UpsertParams struct {
	WalletAddress string
	Name          *string
	Timezone      *string
}
