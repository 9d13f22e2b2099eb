package server

import (
	"errors"
	"strconv"
	"strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseLimit applies the default when empty and clamps to maxListLimit.
func parseLimit(value string) (int, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil {
		return 0, err
	}
	if parsed == nil {
		return defaultListLimit, nil
	}
	if *parsed <= 0 {
		return 0, errors.New("invalid_limit")
	}
	if *parsed > maxListLimit {
		return maxListLimit, nil
	}
	return int(*parsed), nil
}
