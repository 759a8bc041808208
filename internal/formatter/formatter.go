// Package formatter renders engine results as plain user-facing text.
// Output never contains stack traces, error codes or internal identifiers
// beyond the entity ids the collaborator returned.
package formatter

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lerian-entity-resolver/internal/matching"
	"lerian-entity-resolver/internal/resolver"
	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/validation"
)

// OperationLabel turns an operation type such as "create_entity" into
// "Create Entity"
func OperationLabel(opType types.OperationType) string {
	// Casers keep state and must not be shared between goroutines
	caser := cases.Title(language.English)
	return caser.String(strings.ReplaceAll(string(opType), "_", " "))
}

// Batch summarises a batch result, listing failures with their reasons
func Batch(result *types.BatchResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	s := result.Summary
	switch {
	case s.Total == 0:
		b.WriteString("No operations were run.")
	case s.Failed == 0:
		fmt.Fprintf(&b, "All %d %s completed.", s.Total, plural(s.Total, "operation", "operations"))
	case s.Successful == 0:
		fmt.Fprintf(&b, "None of the %d %s completed.", s.Total, plural(s.Total, "operation", "operations"))
	default:
		fmt.Fprintf(&b, "Completed %d of %d operations.", s.Successful, s.Total)
	}

	if len(result.Successful) > 0 && len(result.Failed) > 0 {
		b.WriteString("\n\nSucceeded:")
		for _, item := range result.Successful {
			fmt.Fprintf(&b, "\n  %d. %s", item.Index+1, describe(item.Type, item.Payload))
		}
	}

	if len(result.Failed) > 0 {
		b.WriteString("\n\nFailed:")
		for _, item := range result.Failed {
			fmt.Fprintf(&b, "\n  %d. %s: %s", item.Index+1, describe(item.Type, item.Payload), failureReason(item))
		}
	}
	return b.String()
}

// Resolution renders the outcome of a reference resolution
func Resolution(res resolver.Resolution) string {
	if !res.Accepted() {
		return res.Message
	}

	e := res.Match.Entity
	var b strings.Builder
	fmt.Fprintf(&b, "I think you mean %q", similarity.StripGlyphs(e.Title))
	if when := when(e); when != "" {
		b.WriteString(" " + when)
	}
	fmt.Fprintf(&b, " (%d%% confident).", percent(res.Match.Confidence))
	return b.String()
}

// Validation lists validation errors as guidance; a valid result renders empty
func Validation(result validation.Result) string {
	if result.IsValid || len(result.Errors) == 0 {
		return ""
	}
	if len(result.Errors) == 1 {
		return "Please fix this and try again: " + result.Errors[0] + "."
	}

	var b strings.Builder
	b.WriteString("Please fix the following and try again:")
	for _, e := range result.Errors {
		b.WriteString("\n  - " + e)
	}
	return b.String()
}

// Suggestions renders a "did you mean" list
func Suggestions(list []matching.Ranked) string {
	if len(list) == 0 {
		return "I couldn't find anything similar."
	}

	var b strings.Builder
	b.WriteString("Did you mean one of these?")
	for i, r := range list {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, entityLine(r.Entity))
	}
	return b.String()
}

// Clusters renders groups of similar entities, typically likely duplicates
func Clusters(groups [][]types.Entity) string {
	if len(groups) == 0 {
		return "No similar items found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s of similar items:", len(groups), plural(len(groups), "group", "groups"))
	for i, group := range groups {
		titles := make([]string, len(group))
		for j, e := range group {
			titles[j] = entityLine(e)
		}
		fmt.Fprintf(&b, "\n  %d. %s", i+1, strings.Join(titles, "; "))
	}
	return b.String()
}

func describe(opType types.OperationType, payload map[string]interface{}) string {
	label := OperationLabel(opType)
	for _, key := range []string{"description", "title", "new_title", "id"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return fmt.Sprintf("%s %q", label, similarity.StripGlyphs(v))
		}
	}
	return label
}

func failureReason(item types.FailedItem) string {
	switch item.Kind {
	case types.FailurePanic, types.FailureError:
		return "the service could not complete this, please try again later"
	}
	if item.Error == "" {
		return "failed"
	}
	return item.Error
}

func entityLine(e types.Entity) string {
	line := similarity.StripGlyphs(e.Title)
	if when := when(e); when != "" {
		line += " " + when
	}
	return line
}

func when(e types.Entity) string {
	date := e.DateKey()
	if date == "" {
		return ""
	}
	if t := e.TimeKey(); t != "" && t != "00:00" {
		return fmt.Sprintf("on %s at %s", date, t)
	}
	return "on " + date
}

func percent(v float64) int {
	return int(math.Round(v * 100))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
