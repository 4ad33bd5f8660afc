package models

import "time"

// User roles as carried in JWT claims. Identity itself is owned by an
// external provider; this service only resolves ids to display data.
const (
	RoleMentor  = "mentor"
	RoleLearner = "learner"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
