// Package feedback merges compensation events into a small, ranked,
// patient-appropriate feedback set. Prioritization is deterministic and
// side-effect-free: the same events and configuration always produce the
// same list. Only message keys are emitted; human-facing text belongs to the
// UI layer.
package feedback

import (
	"fmt"
	"sort"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/pose"
)

// SkillLevel grades the patient for feedback dosing: beginners get fewer
// simultaneous corrections than advanced patients.
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// RiskClass buckets feedback by injury linkage for the UI.
type RiskClass string

const (
	RiskHigh     RiskClass = "high"
	RiskModerate RiskClass = "moderate"
	RiskLow      RiskClass = "low"
)

// PositiveReinforcementKey is emitted when nothing qualifies: an empty list
// would read as silence, not success.
const PositiveReinforcementKey = "positive_reinforcement"

// Item is one ranked feedback entry.
type Item struct {
	MessageKey string                `json:"message_key"`
	Priority   float64               `json:"priority"`
	Risk       RiskClass             `json:"risk"`
	Type       compensation.Type     `json:"type,omitempty"`
	Side       pose.Side             `json:"side,omitempty"`
	Severity   compensation.Severity `json:"severity,omitempty"`
	Frequency  int                   `json:"frequency"`
}

// Config tunes prioritization. Risk weights come from the per-type
// compensation config; MaxItems doses feedback by skill level.
type Config struct {
	MaxItems map[SkillLevel]int
}

// DefaultConfig returns the stock feedback dosing.
func DefaultConfig() Config {
	return Config{MaxItems: map[SkillLevel]int{
		SkillBeginner:     2,
		SkillIntermediate: 3,
		SkillAdvanced:     4,
	}}
}

// Validate rejects non-positive feedback limits.
func (c Config) Validate() error {
	if len(c.MaxItems) == 0 {
		return fmt.Errorf("feedback: no skill levels configured")
	}
	for level, max := range c.MaxItems {
		if max <= 0 {
			return fmt.Errorf("feedback: max items for %q must be positive, got %d", level, max)
		}
	}
	return nil
}

// maxFor returns the item limit for a skill level, defaulting to the
// beginner dose for unknown levels (the conservative choice).
func (c Config) maxFor(level SkillLevel) int {
	if max, ok := c.MaxItems[level]; ok {
		return max
	}
	if max, ok := c.MaxItems[SkillBeginner]; ok {
		return max
	}
	return 2
}

// Prioritize merges events of the same type and side into single items,
// scores them as riskWeight*100 + severityRank*50 + frequency*25, sorts
// descending, and truncates to the skill level's dose. Severity per merged
// item is the worst seen across its events.
func Prioritize(events []*compensation.Event, skill SkillLevel, compCfg compensation.Config, cfg Config) []Item {
	type mergeKey struct {
		typ  compensation.Type
		side pose.Side
	}
	merged := make(map[mergeKey]*Item)

	for _, ev := range events {
		if ev == nil {
			continue
		}
		key := mergeKey{typ: ev.Type, side: ev.Side}
		item, ok := merged[key]
		if !ok {
			item = &Item{
				MessageKey: messageKey(ev.Type, ev.Side),
				Type:       ev.Type,
				Side:       ev.Side,
				Severity:   ev.Severity,
			}
			merged[key] = item
		}
		item.Frequency++
		if ev.Severity.Rank() > item.Severity.Rank() {
			item.Severity = ev.Severity
		}
	}

	items := make([]Item, 0, len(merged))
	for _, item := range merged {
		weight := compCfg[item.Type].RiskWeight
		item.Priority = weight*100 + float64(item.Severity.Rank())*50 + float64(item.Frequency)*25
		item.Risk = riskClass(weight)
		items = append(items, *item)
	}

	if len(items) == 0 {
		return []Item{{MessageKey: PositiveReinforcementKey, Risk: RiskLow, Frequency: 0}}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].MessageKey < items[j].MessageKey
	})

	if max := cfg.maxFor(skill); len(items) > max {
		items = items[:max]
	}
	return items
}

func messageKey(typ compensation.Type, side pose.Side) string {
	return fmt.Sprintf("%s.%s", typ, side)
}

// riskClass buckets a configured risk weight. Weights ≥ 2 mark patterns with
// documented injury linkage (e.g. knee valgus → ACL strain).
func riskClass(weight float64) RiskClass {
	switch {
	case weight >= 2:
		return RiskHigh
	case weight >= 1:
		return RiskModerate
	default:
		return RiskLow
	}
}
