package util

import "strings"

// Normalize performs basic string normalization (lowercase + trim)
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CollapseSpaces trims and folds runs of whitespace (including non-breaking
// spaces, which character pages are full of) into single spaces.
func CollapseSpaces(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Slugify converts a character name to the URL form the game sites expect.
func Slugify(name string) string {
	name = Normalize(name)
	name = strings.ReplaceAll(name, " ", "+")
	name = strings.ReplaceAll(name, "'", "")
	return name
}

// Contains checks if a string slice contains a specific item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ContainsFold is Contains with case-insensitive comparison.
func ContainsFold(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
