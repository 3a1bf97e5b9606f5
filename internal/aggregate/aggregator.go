// Package aggregate clusters per-unit rubric judgments into evidence-backed
// activities.
package aggregate

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rdscope/rdscope-go/internal/models"
)

// Aggregator groups judgments into activities via single-link transitive
// clustering: two judgments join the same cluster when their units share a
// touched file or fall within the time window of each other.
type Aggregator struct {
	window        time.Duration
	bonus         int
	minConfidence int
	floor         int
	logger        *slog.Logger
}

// New creates an aggregator. windowDays <= 0 selects the 14-day default;
// bonus <= 0 selects the +5 per corroborating judgment default. Judgments
// whose confidence falls below floor are retained in clusters but count as
// not qualifying, so they contribute neither rationales nor corroboration.
func New(windowDays, bonus, minConfidence, floor int) *Aggregator {
	if windowDays <= 0 {
		windowDays = 14
	}
	if bonus <= 0 {
		bonus = 5
	}
	return &Aggregator{
		window:        time.Duration(windowDays) * 24 * time.Hour,
		bonus:         bonus,
		minConfidence: minConfidence,
		floor:         floor,
		logger:        slog.Default().With("component", "aggregate"),
	}
}

// Aggregate clusters the judgment set into activities. Failed judgments are
// excluded; every surviving judgment lands in exactly one activity. Cluster
// membership is order-independent; output ordering is deterministic (window
// start, then earliest unit ID).
func (a *Aggregator) Aggregate(judgments []models.RubricJudgment, units map[string]models.EvidenceUnit) []models.Activity {
	members := make([]member, 0, len(judgments))
	for _, j := range judgments {
		if j.Failed {
			continue
		}
		unit, ok := units[j.UnitID]
		if !ok {
			a.logger.Warn("judgment references unknown unit, skipping", "unit", j.UnitID)
			continue
		}
		members = append(members, member{judgment: j, unit: unit})
	}
	if len(members) == 0 {
		return nil
	}

	// Stable member order before clustering so titles and IDs don't depend
	// on input order.
	sort.Slice(members, func(i, j int) bool {
		if !members[i].unit.Timestamp.Equal(members[j].unit.Timestamp) {
			return members[i].unit.Timestamp.Before(members[j].unit.Timestamp)
		}
		return members[i].unit.ID < members[j].unit.ID
	})

	uf := newUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if a.linked(members[i].unit, members[j].unit) {
				uf.union(i, j)
			}
		}
	}

	clusters := map[int][]member{}
	for i, m := range members {
		root := uf.find(i)
		clusters[root] = append(clusters[root], m)
	}

	activities := make([]models.Activity, 0, len(clusters))
	for _, cluster := range clusters {
		activities = append(activities, a.buildActivity(cluster))
	}

	sort.Slice(activities, func(i, j int) bool {
		if !activities[i].Window.Start.Equal(activities[j].Window.Start) {
			return activities[i].Window.Start.Before(activities[j].Window.Start)
		}
		return activities[i].UnitIDs[0] < activities[j].UnitIDs[0]
	})

	a.logger.Info("aggregation complete",
		"judgments", len(members),
		"activities", len(activities),
	)
	return activities
}

// linked reports whether two units belong in the same cluster: a shared
// touched file or timestamps within the window.
func (a *Aggregator) linked(x, y models.EvidenceUnit) bool {
	for _, fx := range x.Files {
		for _, fy := range y.Files {
			if fx == fy {
				return true
			}
		}
	}
	gap := x.Timestamp.Sub(y.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	return gap <= a.window
}

// buildActivity merges one cluster. Members arrive sorted by timestamp, so
// the first member titles the activity. Confidence is the member maximum plus
// the corroboration bonus per additional judgment independently satisfying
// the most-corroborated category, capped at 100.
func (a *Aggregator) buildActivity(cluster []member) models.Activity {
	maxConfidence := 0
	categoryCounts := map[models.RubricCategory]int{}
	rationales := map[models.RubricCategory]string{}
	rationaleConf := map[models.RubricCategory]int{}
	unitIDs := make([]string, 0, len(cluster))

	window := models.TimeWindow{
		Start: cluster[0].unit.Timestamp,
		End:   cluster[0].unit.Timestamp,
	}

	for _, m := range cluster {
		unitIDs = append(unitIDs, m.unit.ID)
		if m.judgment.Confidence > maxConfidence {
			maxConfidence = m.judgment.Confidence
		}
		if m.unit.Timestamp.Before(window.Start) {
			window.Start = m.unit.Timestamp
		}
		if m.unit.Timestamp.After(window.End) {
			window.End = m.unit.Timestamp
		}
		if m.judgment.Confidence < a.floor {
			// Below the qualification floor: retained for the record but
			// treated as not satisfying any category.
			continue
		}
		for cat, cj := range m.judgment.Categories {
			if !cj.Present {
				continue
			}
			categoryCounts[cat]++
			// Keep the rationale from the most confident member.
			if cj.Rationale != "" && m.judgment.Confidence >= rationaleConf[cat] {
				rationales[cat] = cj.Rationale
				rationaleConf[cat] = m.judgment.Confidence
			}
		}
	}

	corroborating := 0
	for _, count := range categoryCounts {
		if count-1 > corroborating {
			corroborating = count - 1
		}
	}

	confidence := maxConfidence + a.bonus*corroborating
	if confidence > 100 {
		confidence = 100
	}

	return models.Activity{
		ID:         uuid.NewString(),
		Title:      activityTitle(cluster[0].unit),
		Window:     window,
		UnitIDs:    unitIDs,
		Rationales: rationales,
		Confidence: confidence,
		Included:   confidence >= a.minConfidence,
	}
}

// member pairs a judgment with its evidence unit for clustering.
type member struct {
	judgment models.RubricJudgment
	unit     models.EvidenceUnit
}

// activityTitle derives a title from the earliest unit's first text line,
// dropping the kind tag.
func activityTitle(unit models.EvidenceUnit) string {
	line := unit.Text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "] "); i >= 0 {
		line = line[i+2:]
	}
	return strings.TrimSpace(line)
}

// unionFind is a flat index arena with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(x, y int) {
	rx, ry := u.find(x), u.find(y)
	if rx != ry {
		u.parent[rx] = ry
	}
}
