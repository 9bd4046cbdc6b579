package agent

import (
	"strings"

	"github.com/jkaninda/eiro/internal/incident"
)

// fallbackPriority scans free text for a priority keyword. Medium is
// the documented default when nothing matches.
func fallbackPriority(text string) incident.Priority {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "critical"):
		return incident.PriorityCritical
	case strings.Contains(lower, "high"):
		return incident.PriorityHigh
	case strings.Contains(lower, "low"):
		return incident.PriorityLow
	}
	return incident.PriorityMedium
}

// fallbackCategory scans free text for a category keyword. Other is
// the documented default when nothing matches.
func fallbackCategory(text string) incident.Category {
	lower := strings.ToLower(text)
	for _, c := range []incident.Category{
		incident.CategoryPerformance,
		incident.CategoryError,
		incident.CategoryConnectivity,
		incident.CategorySecurity,
	} {
		if strings.Contains(lower, string(c)) {
			return c
		}
	}
	return incident.CategoryOther
}

// extractSubject finds a "Subject:" line in model output, falling back
// to a templated line for the given state.
func extractSubject(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "subject") {
			if _, after, ok := strings.Cut(trimmed, ":"); ok {
				if s := strings.TrimSpace(after); s != "" {
					return s
				}
			}
		}
	}
	return fallback
}
