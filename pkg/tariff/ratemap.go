package tariff

import (
	"fmt"
	"sort"
	"time"

	"github.com/gridrater/gridrater/pkg/types"
)

const (
	hoursPerDay = 24
	daysPerWeek = 7
)

// RateMap is the compiled form of a contract's rate rules: a dense table
// indexed by tier and hour, with every overlap already resolved. It is
// built once per tariff and read-only afterwards.
type RateMap struct {
	// tiers holds the signed tier thresholds in ascending order. The base
	// threshold 0.0 is always present. Tier i covers usage from tiers[i]
	// up to tiers[i+1].
	tiers    []float64
	tierSign float64

	// weekly is true when any rule carries a weekly window, in which case
	// the table spans 168 hours instead of 24.
	weekly bool

	table   [][]*types.RateRule
	covered bool
}

// rankedRule pairs a rule with its fill-priority key.
type rankedRule struct {
	key  int
	rule *types.RateRule
}

// priorityKey computes the table-fill order for a rule. Rules are filled in
// ascending key order so that a later (higher-key) rule overwrites earlier
// ones on any cell they both cover. The key construction makes a tier
// constraint dominate a weekly constraint, which dominates a daily
// constraint, which dominates no constraint; ties fall back to the window
// start hour.
func priorityKey(r *types.RateRule, tierIndex int, weekly bool) int {
	key := 0
	if r.DailyBegin >= 0 {
		key = r.DailyBegin
	}
	if r.WeeklyBegin >= 0 {
		key += r.WeeklyBegin * hoursPerDay
	}
	if tierIndex > 0 {
		weekMult := 1
		if weekly {
			weekMult = daysPerWeek
		}
		key += tierIndex * hoursPerDay * weekMult
	}
	return key
}

// compileRateMap transforms a contract's unordered, possibly-overlapping
// rules into a dense tier-by-hour table. The returned map may be
// incomplete; callers must check Covered before using it.
func compileRateMap(c *types.TariffContract) *RateMap {
	m := &RateMap{tierSign: 1}
	if c.PowerType.IsProduction() {
		// production tiers run negative
		m.tierSign = -1
	}

	// collect the signed tier thresholds, always including the base tier
	m.tiers = []float64{0}
	for _, r := range c.Rates {
		if r.WeeklyBegin >= 0 {
			m.weekly = true
		}
		if t := r.TierThreshold * m.tierSign; t > 0 {
			m.tiers = append(m.tiers, t)
		}
	}
	sort.Float64s(m.tiers)
	m.tiers = dedupeFloats(m.tiers)

	ranked := make([]rankedRule, 0, len(c.Rates))
	for _, r := range c.Rates {
		ranked = append(ranked, rankedRule{
			key:  priorityKey(r, m.tierIndexOf(r.TierThreshold*m.tierSign), m.weekly),
			rule: r,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].key < ranked[j].key })

	m.table = make([][]*types.RateRule, len(m.tiers))
	for i := range m.table {
		m.table[i] = make([]*types.RateRule, m.HourCount())
	}
	for _, rr := range ranked {
		m.fill(rr.rule)
	}

	m.covered = true
	for _, row := range m.table {
		for _, cell := range row {
			if cell == nil {
				m.covered = false
			}
		}
	}
	return m
}

// fill writes the rule into every (tier, hour) cell its windows cover,
// overwriting whatever lower-priority rules put there. Daily windows with
// end < begin wrap past midnight; weekly windows with end < begin wrap past
// the week boundary. Each wrap is filled as two contiguous segments.
func (m *RateMap) fill(r *types.RateRule) {
	ti := m.tierIndexOf(r.TierThreshold * m.tierSign)

	day1, dayn := 0, 0
	if m.weekly {
		dayn = daysPerWeek - 1
		if r.WeeklyBegin >= 0 {
			day1 = r.WeeklyBegin - 1 // days are 1-based
			dayn = day1
		}
		if r.WeeklyEnd >= 0 {
			dayn = r.WeeklyEnd - 1
		}
	}
	hr1, hrn := 0, hoursPerDay-1
	if r.DailyBegin >= 0 {
		hr1 = r.DailyBegin
		hrn = r.DailyEnd
	}

	fillDay := func(day int) {
		if hrn < hr1 {
			for hour := 0; hour <= hrn; hour++ {
				m.table[ti][hour+day*hoursPerDay] = r
			}
			for hour := hr1; hour < hoursPerDay; hour++ {
				m.table[ti][hour+day*hoursPerDay] = r
			}
			return
		}
		for hour := hr1; hour <= hrn; hour++ {
			m.table[ti][hour+day*hoursPerDay] = r
		}
	}

	if dayn < day1 {
		for day := 0; day <= dayn; day++ {
			fillDay(day)
		}
		for day := day1; day < daysPerWeek; day++ {
			fillDay(day)
		}
		return
	}
	for day := day1; day <= dayn; day++ {
		fillDay(day)
	}
}

// Covered returns true iff every (tier, hour) cell has a rule.
func (m *RateMap) Covered() bool {
	return m.covered
}

// Weekly returns true if the table is indexed by hour-in-week.
func (m *RateMap) Weekly() bool {
	return m.weekly
}

// TierCount returns the number of tiers, always at least 1.
func (m *RateMap) TierCount() int {
	return len(m.tiers)
}

// HourCount returns the table width: 24, or 168 for weekly maps.
func (m *RateMap) HourCount() int {
	if m.weekly {
		return hoursPerDay * daysPerWeek
	}
	return hoursPerDay
}

// TimeIndex returns the table column for the given instant: hour-of-day in
// UTC, offset by the ISO day of week (Monday=1) for weekly maps.
func (m *RateMap) TimeIndex(when time.Time) int {
	dt := when.UTC()
	idx := dt.Hour()
	if m.weekly {
		idx += hoursPerDay * (isoWeekday(dt) - 1)
	}
	return idx
}

// ruleAt returns the rule for the given tier and table column. A nil cell
// means the caller queried a map that was never covered, which is a
// precondition violation.
func (m *RateMap) ruleAt(tierIndex, timeIndex int) (*types.RateRule, error) {
	if tierIndex < 0 || tierIndex >= len(m.tiers) || timeIndex < 0 || timeIndex >= m.HourCount() {
		return nil, fmt.Errorf("rate lookup out of range (tier=%d, hour=%d): %w", tierIndex, timeIndex, ErrNoRate)
	}
	r := m.table[tierIndex][timeIndex]
	if r == nil {
		return nil, fmt.Errorf("no rate for tier=%d, hour=%d: %w", tierIndex, timeIndex, ErrNoRate)
	}
	return r, nil
}

// tierIndexOf maps a signed threshold to its dense tier index. Thresholds
// are matched against the ordered tier list rather than used as map keys,
// so float identity is confined to values that originated from the same
// rule set. Unknown or base thresholds map to tier 0.
func (m *RateMap) tierIndexOf(signedThreshold float64) int {
	for i, t := range m.tiers {
		if t == signedThreshold {
			return i
		}
	}
	return 0
}

// isoWeekday returns the ISO day of week, Monday=1 through Sunday=7.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}

func dedupeFloats(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
