// internal/domain/models/leveltier.go
package models

import "time"

// Badge describes the badge a tier unlocks.
type Badge struct {
	Key   string `bson:"key" json:"key"`
	Name  string `bson:"name" json:"name"`
	Icon  string `bson:"icon,omitempty" json:"icon,omitempty"`
	Color string `bson:"color,omitempty" json:"color,omitempty"`
}

// LevelTier is one band of the administratively configured tier catalog.
// MaxXP < 0 means the tier is unbounded above.
type LevelTier struct {
	Level      int       `bson:"level" json:"level"`
	Title      string    `bson:"title" json:"title"`
	MinXP      int64     `bson:"min_xp" json:"min_xp"`
	MaxXP      int64     `bson:"max_xp" json:"max_xp"`
	Rewards    []string  `bson:"rewards,omitempty" json:"rewards,omitempty"`
	Privileges []string  `bson:"privileges,omitempty" json:"privileges,omitempty"`
	Badge      Badge     `bson:"badge" json:"badge"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// Contains reports whether xp falls inside [MinXP, MaxXP].
func (t LevelTier) Contains(xp int64) bool {
	if xp < t.MinXP {
		return false
	}
	return t.MaxXP < 0 || xp <= t.MaxXP
}
