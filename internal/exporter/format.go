package exporter

import (
	"strconv"
	"time"
)

// formatFloat writes a value with exactly 2 decimal places so rates read
// as 13.40 rather than 13.4.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// formatValue keeps full precision for model output.
func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
