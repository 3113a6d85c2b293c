package history

import "strings"

// isBusy reports SQLite lock contention ("SQLITE_BUSY" or "database is locked"),
// which is worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
