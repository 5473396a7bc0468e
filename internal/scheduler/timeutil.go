package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// parseClock converts an HH:MM string into minutes after midnight.
func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if !models.ValidHHMM(raw) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hours, _ := strconv.Atoi(raw[:2])
	minutes, _ := strconv.Atoi(raw[3:])
	return hours*60 + minutes, nil
}

func mustClock(raw string) int {
	value, err := parseClock(raw)
	if err != nil {
		return -1
	}
	return value
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// overlaps applies the half-open rule: ranges touching at an edge do not overlap.
func overlaps(startA, endA, startB, endB string) bool {
	return startA < endB && startB < endA
}

func containsWindow(outerStart, outerEnd, innerStart, innerEnd string) bool {
	return outerStart <= innerStart && innerEnd <= outerEnd
}

func maxString(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func minString(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func durationMinutes(start, end string) int {
	s, e := mustClock(start), mustClock(end)
	if s < 0 || e < 0 || e < s {
		return 0
	}
	return e - s
}
