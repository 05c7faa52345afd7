package otelx

import (
	"strconv"
	"strings"
)

func parseRatio(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}
