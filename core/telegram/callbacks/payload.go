package callbacks

import (
	"strconv"
	"strings"
)

// SplitAction splits a payload like "approve:42" into its verb and argument.
// A payload without a colon is returned whole as the verb.
func SplitAction(payload string) (string, string) {
	verb, arg, _ := strings.Cut(payload, ":")
	return verb, arg
}

// ActionInt64 parses a payload like "off:42" into its verb and numeric argument.
func ActionInt64(payload string) (string, int64, error) {
	verb, arg := SplitAction(payload)
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return verb, 0, err
	}
	return verb, n, nil
}

// Index parses a zero-based list index payload.
func Index(payload string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
