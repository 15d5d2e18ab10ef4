// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

const redactedString = "********"

// RedactString replaces a secret with a fixed placeholder so stored
// passwords and tokens never leave the process in API responses.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return redactedString
}

// IsRedactedString reports whether a client sent back the placeholder
// instead of a new secret, meaning the stored value must be kept.
func IsRedactedString(s string) bool {
	return s == redactedString
}
