package versions

import (
	"slices"

	"github.com/Masterminds/semver/v3"
)

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// It uses semantic versioning for comparison when both strings are valid semver,
// and falls back to lexicographic string comparison otherwise.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		// Fallback to string comparison if semver parsing fails
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}

// SortAscending orders items oldest version first, using key to obtain the
// version string of each item. The sort is stable so items with equal
// versions keep their input order.
func SortAscending[T any](items []T, key func(T) string) {
	slices.SortStableFunc(items, func(a, b T) int {
		ka, kb := key(a), key(b)
		switch {
		case IsNewerVersion(kb, ka):
			return -1
		case IsNewerVersion(ka, kb):
			return 1
		default:
			return 0
		}
	})
}
