package logger

import "strings"

// RedactEmail masks an address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Local parts of two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
