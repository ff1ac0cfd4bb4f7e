package domain

import "time"

// UserState holds a player's running score. ID equals the identity
// provider's subject id, which is also Guess.Owner.
type UserState struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Score         int       `json:"score"`
	Streak        int       `json:"streak"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}
