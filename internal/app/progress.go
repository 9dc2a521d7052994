package app

import "github.com/yourusername/offline-go/internal/domain"

// percentage converts a backend status into a 0-100 integer.
// A complete status is always 100.
func percentage(status domain.RegionStatus) int {
	if status.Complete() {
		return 100
	}
	if status.RequiredResourceCount <= 0 {
		return 0
	}
	p := 100 * status.CompletedResourceCount / status.RequiredResourceCount
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// groupPercentage aggregates the active member's percentage with the members
// already finished.
func groupPercentage(memberPercentage, finishedMembers, totalMembers int) float64 {
	if totalMembers <= 0 {
		return 0
	}
	return (float64(memberPercentage) + float64(finishedMembers)*100.0) / float64(totalMembers)
}

// shouldPublish implements the 2% throttle: only even percentages that differ
// from the last published one produce a Progress event. A tile backend reports
// after every tile, so the same even value would otherwise repeat many times.
func shouldPublish(percentage, lastPublished int) bool {
	return percentage%2 == 0 && percentage != lastPublished
}
