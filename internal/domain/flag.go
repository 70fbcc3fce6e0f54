package domain

import "time"

// Flag is a feature toggle. A flag is on for everyone when Enabled is set,
// otherwise only for the users listed in Actors.
type Flag struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Actors    []int64   `json:"actors"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnabledFor reports whether the flag is on for the given user.
func (f Flag) EnabledFor(userID int64) bool {
	if f.Enabled {
		return true
	}
	for _, id := range f.Actors {
		if id == userID {
			return true
		}
	}
	return false
}
