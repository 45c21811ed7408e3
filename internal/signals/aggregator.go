package signals

import (
	"sort"
	"time"

	"github.com/matthewbaird/canalworks/internal/types"
)

// CategorySummary counts one category's entries.
type CategorySummary struct {
	Category         string         `json:"category"`
	SignalCount      int            `json:"signal_count"`
	ByWeight         map[string]int `json:"by_weight"`
	ByPolarity       map[string]int `json:"by_polarity"`
	DominantPolarity string         `json:"dominant_polarity"`
	Trend            string         `json:"trend"` // "improving", "stable", "declining"
}

// Escalation is a rule that fired.
type Escalation struct {
	Rule             EscalationRule `json:"rule"`
	TriggeringCount  int            `json:"triggering_count"`
	EarliestOccurred time.Time      `json:"earliest_occurred"`
	LatestOccurred   time.Time      `json:"latest_occurred"`
}

// Summary is the health of one entity over a window.
type Summary struct {
	EntityType       string                     `json:"entity_type"`
	EntityID         string                     `json:"entity_id"`
	Since            time.Time                  `json:"since"`
	Until            time.Time                  `json:"until"`
	Categories       map[string]CategorySummary `json:"categories"`
	OverallSentiment string                     `json:"overall_sentiment"` // "positive", "mixed", "concerning", "critical"
	SentimentReason  string                     `json:"sentiment_reason"`
	Escalations      []Escalation               `json:"escalations"`
}

// Aggregate summarizes entries of one entity between since and until.
// Escalation windows end at until.
func Aggregate(entries []types.ActivityEntry, entityType, entityID string, since, until time.Time) Summary {
	categories := make(map[string]*CategorySummary)
	for _, e := range entries {
		cs, ok := categories[e.Category]
		if !ok {
			cs = &CategorySummary{
				Category:   e.Category,
				ByWeight:   map[string]int{},
				ByPolarity: map[string]int{},
			}
			categories[e.Category] = cs
		}
		cs.SignalCount++
		cs.ByWeight[e.Weight]++
		cs.ByPolarity[PolarityOf(e)]++
	}

	result := make(map[string]CategorySummary, len(categories))
	for cat, cs := range categories {
		cs.DominantPolarity = dominantPolarity(cs.ByPolarity)
		cs.Trend = computeTrend(entries, cat, since, until)
		result[cat] = *cs
	}

	escalations := Escalations(entries, until)
	sentiment, reason := computeSentiment(result, escalations)
	return Summary{
		EntityType:       entityType,
		EntityID:         entityID,
		Since:            since,
		Until:            until,
		Categories:       result,
		OverallSentiment: sentiment,
		SentimentReason:  reason,
		Escalations:      escalations,
	}
}

// Escalations evaluates every registered and cross-category rule with
// windows ending at now.
func Escalations(entries []types.ActivityEntry, now time.Time) []Escalation {
	out := []Escalation{}
	for _, reg := range Registry {
		for _, rule := range reg.EscalationRules {
			if es, ok := evaluateRule(rule, entries, now); ok {
				out = append(out, es)
			}
		}
	}
	for _, rule := range crossCategory {
		if es, ok := evaluateRule(rule, entries, now); ok {
			out = append(out, es)
		}
	}
	return out
}

func evaluateRule(rule EscalationRule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	switch rule.TriggerType {
	case "count":
		return evaluateCount(rule, entries, now)
	case "cross_category":
		return evaluateCrossCategory(rule, entries, now)
	}
	return Escalation{}, false
}

func evaluateCount(rule EscalationRule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	windowStart := now.AddDate(0, 0, -rule.WithinDays)
	var matching []types.ActivityEntry
	for _, e := range entries {
		if e.OccurredAt.Before(windowStart) || e.OccurredAt.After(now) {
			continue
		}
		if rule.SignalCategory != "" && e.Category != rule.SignalCategory {
			continue
		}
		if rule.SignalWeight != "" && e.Weight != rule.SignalWeight {
			continue
		}
		if rule.SignalPolarity != "" && PolarityOf(e) != rule.SignalPolarity {
			continue
		}
		matching = append(matching, e)
	}
	if len(matching) < rule.Count {
		return Escalation{}, false
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].OccurredAt.Before(matching[j].OccurredAt)
	})
	return Escalation{
		Rule:             rule,
		TriggeringCount:  len(matching),
		EarliestOccurred: matching[0].OccurredAt,
		LatestOccurred:   matching[len(matching)-1].OccurredAt,
	}, true
}

func evaluateCrossCategory(rule EscalationRule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	windowStart := now.AddDate(0, 0, -rule.WithinDays)
	counts := make(map[string]int)
	var earliest, latest time.Time
	for _, e := range entries {
		if e.OccurredAt.Before(windowStart) || e.OccurredAt.After(now) {
			continue
		}
		for _, req := range rule.RequiredCategories {
			if e.Category != req.Category || (req.Polarity != "" && PolarityOf(e) != req.Polarity) {
				continue
			}
			counts[req.Category]++
			if earliest.IsZero() || e.OccurredAt.Before(earliest) {
				earliest = e.OccurredAt
			}
			if e.OccurredAt.After(latest) {
				latest = e.OccurredAt
			}
		}
	}

	total := 0
	for _, req := range rule.RequiredCategories {
		if counts[req.Category] < req.MinCount {
			return Escalation{}, false
		}
		total += counts[req.Category]
	}
	return Escalation{
		Rule:             rule,
		TriggeringCount:  total,
		EarliestOccurred: earliest,
		LatestOccurred:   latest,
	}, true
}

// dominantPolarity returns the most frequent polarity; ties go to the
// alphabetically first so the result is stable.
func dominantPolarity(byPolarity map[string]int) string {
	best, bestCount := "", 0
	for p, c := range byPolarity {
		if c > bestCount || (c == bestCount && p < best) {
			best, bestCount = p, c
		}
	}
	return best
}

// computeTrend compares the category's volume in the two halves of the
// window. More activity late in the window reads as declining only for
// negative categories; everything else is stable.
func computeTrend(entries []types.ActivityEntry, category string, since, until time.Time) string {
	mid := since.Add(until.Sub(since) / 2)
	var firstHalf, secondHalf int
	for _, e := range entries {
		if e.Category != category || PolarityOf(e) != PolarityNegative {
			continue
		}
		if e.OccurredAt.Before(mid) {
			firstHalf++
		} else {
			secondHalf++
		}
	}
	switch {
	case secondHalf > firstHalf+1:
		return "declining"
	case firstHalf > secondHalf+1:
		return "improving"
	}
	return "stable"
}

func computeSentiment(categories map[string]CategorySummary, escalations []Escalation) (string, string) {
	for _, e := range escalations {
		if e.Rule.EscalatedWeight == "critical" {
			return "critical", "Critical escalation triggered: " + e.Rule.EscalatedDescription
		}
	}

	var criticalCount, negativeCount, positiveCount int
	for _, cs := range categories {
		criticalCount += cs.ByWeight["critical"]
		negativeCount += cs.ByPolarity[PolarityNegative]
		positiveCount += cs.ByPolarity[PolarityPositive]
	}
	switch {
	case criticalCount > 0:
		return "critical", "A submission left this work without its remaining details."
	case len(escalations) > 0 || negativeCount > positiveCount*2:
		return "concerning", "Failed submissions outweigh successful writes."
	case negativeCount > 0:
		return "mixed", "Some submissions failed, but the work is complete."
	}
	return "positive", "Every recorded step succeeded."
}
