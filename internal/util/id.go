package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, prefix + "_" + 32 hex digits.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// TicketKey formats the human key of a ticket, e.g. "ENG-42".
func TicketKey(identifier string, n int64) string {
	return fmt.Sprintf("%s-%d", identifier, n)
}

// SplitTicketKey is the inverse of TicketKey.
func SplitTicketKey(key string) (string, int64, bool) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return key[:i], n, true
}
