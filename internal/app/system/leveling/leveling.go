// Package leveling maps cumulative XP to levels and catalog tiers.
//
// Everything here is a pure function of XP and the tier catalog. Level is
// never stored; callers recompute it on every read.
//
// Level L is reached at XPForLevel(L) = 100·(L−1)² XP, which is the inverse
// of Level(xp) = floor(0.1·√xp) + 1.
package leveling

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/gosimple/slug"
)

// MaxLevel caps the level scale.
const MaxLevel = 100

// Level returns floor(0.1·√xp) + 1, with negative XP treated as 0 and the
// result capped at MaxLevel.
func Level(xp int64) int {
	if xp <= 0 {
		return 1
	}
	l := int(isqrt(xp)/10) + 1
	if l > MaxLevel {
		return MaxLevel
	}
	return l
}

// XPForLevel returns the minimum XP at which level is reached.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level-1) * 10
	return n * n
}

// ProgressPercent is how far xp has moved through its current level, in [0, 100].
func ProgressPercent(xp int64) float64 {
	level := Level(xp)
	lo := XPForLevel(level)
	hi := XPForLevel(level + 1)
	if hi <= lo {
		return 100
	}
	pct := float64(xp-lo) / float64(hi-lo) * 100
	return math.Max(0, math.Min(100, pct))
}

// XPToNextLevel is the XP still needed to reach the next level.
func XPToNextLevel(xp int64) int64 {
	if xp < 0 {
		xp = 0
	}
	left := XPForLevel(Level(xp)+1) - xp
	if left < 0 {
		return 0
	}
	return left
}

// Info is the read model served for a user's level.
type Info struct {
	XP              int64             `json:"xp"`
	Level           int               `json:"level"`
	Tier            *models.LevelTier `json:"tier,omitempty"`
	ProgressPercent float64           `json:"progress_percent"`
	XPToNextLevel   int64             `json:"xp_to_next_level"`
	NextLevelXP     int64             `json:"next_level_xp"`
}

// Resolve computes the full level view for xp against catalog.
func Resolve(xp int64, catalog Catalog) Info {
	level := Level(xp)
	info := Info{
		XP:              xp,
		Level:           level,
		ProgressPercent: ProgressPercent(xp),
		XPToNextLevel:   XPToNextLevel(xp),
		NextLevelXP:     XPForLevel(level + 1),
	}
	if t, ok := catalog.TierFor(xp); ok {
		info.Tier = &t
	}
	return info
}

// Catalog is a tier list sorted by MinXP.
type Catalog []models.LevelTier

// NewCatalog returns a copy of tiers sorted by MinXP.
func NewCatalog(tiers []models.LevelTier) Catalog {
	c := make(Catalog, len(tiers))
	copy(c, tiers)
	sort.Slice(c, func(i, j int) bool { return c[i].MinXP < c[j].MinXP })
	return c
}

// TierFor returns the tier whose bounds contain xp. On a configuration gap
// it falls back to the highest tier with MinXP ≤ xp.
func (c Catalog) TierFor(xp int64) (models.LevelTier, bool) {
	for _, t := range c {
		if t.Contains(xp) {
			return t, true
		}
	}
	var best *models.LevelTier
	for i := range c {
		if c[i].MinXP <= xp && (best == nil || c[i].MinXP > best.MinXP) {
			best = &c[i]
		}
	}
	if best == nil {
		return models.LevelTier{}, false
	}
	return *best, true
}

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid tier catalog")

// Validate checks that the catalog covers [0, ∞) with contiguous,
// non-overlapping ranges and unique levels in 1..MaxLevel.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: catalog is empty", ErrInvalidCatalog)
	}
	seen := make(map[int]bool, len(c))
	for i, t := range c {
		if t.Title == "" {
			return fmt.Errorf("%w: tier %d has no title", ErrInvalidCatalog, t.Level)
		}
		if t.Level < 1 || t.Level > MaxLevel {
			return fmt.Errorf("%w: level %d outside 1..%d", ErrInvalidCatalog, t.Level, MaxLevel)
		}
		if seen[t.Level] {
			return fmt.Errorf("%w: duplicate level %d", ErrInvalidCatalog, t.Level)
		}
		seen[t.Level] = true

		last := i == len(c)-1
		if t.MaxXP < 0 && !last {
			return fmt.Errorf("%w: only the last tier may be unbounded (level %d)", ErrInvalidCatalog, t.Level)
		}
		if t.MaxXP >= 0 && t.MaxXP < t.MinXP {
			return fmt.Errorf("%w: level %d has max_xp < min_xp", ErrInvalidCatalog, t.Level)
		}
		if i == 0 && t.MinXP != 0 {
			return fmt.Errorf("%w: first tier must start at 0 XP", ErrInvalidCatalog)
		}
		if i > 0 && t.MinXP != c[i-1].MaxXP+1 {
			return fmt.Errorf("%w: gap or overlap before level %d", ErrInvalidCatalog, t.Level)
		}
		if last && t.MaxXP >= 0 {
			return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidCatalog)
		}
	}
	return nil
}

// Normalize fills derived fields such as badge keys.
func (c Catalog) Normalize() {
	for i := range c {
		if c[i].Badge.Name == "" {
			c[i].Badge.Name = c[i].Title
		}
		if c[i].Badge.Key == "" {
			c[i].Badge.Key = slug.Make(c[i].Badge.Name)
		}
	}
}

// DefaultCatalog has ten tiers, each spanning ten levels.
func DefaultCatalog() Catalog {
	titles := []string{
		"Newcomer", "Helper", "Contributor", "Advocate", "Champion",
		"Guardian", "Mentor", "Trailblazer", "Luminary", "Legend",
	}
	c := make(Catalog, 0, len(titles))
	for i, title := range titles {
		first := i*10 + 1
		t := models.LevelTier{
			Level: first,
			Title: title,
			MinXP: XPForLevel(first),
			MaxXP: XPForLevel(first+10) - 1,
		}
		if i == len(titles)-1 {
			t.MaxXP = -1
		}
		if i > 0 {
			t.Rewards = []string{fmt.Sprintf("certificate:%s", slug.Make(title))}
		}
		if i >= 4 {
			t.Privileges = []string{"lead_small_team"}
		}
		if i >= 7 {
			t.Privileges = append(t.Privileges, "verify_peer_tasks")
		}
		c = append(c, t)
	}
	c.Normalize()
	return c
}

func isqrt(n int64) int64 {
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
