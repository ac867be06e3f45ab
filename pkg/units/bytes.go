package units

import "strconv"

// Byte size constants for consistent usage across the codebase.
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * 1024
	BytesPerGB int64 = 1024 * 1024 * 1024 // 1,073,741,824
)

// FormatBytes renders a byte count using the largest unit that keeps the
// mantissa >= 1, for admin API payload-size and DLQ-size reporting.
func FormatBytes(b int64) string {
	switch {
	case b >= BytesPerGB:
		return formatRatio(b, BytesPerGB) + " GB"
	case b >= BytesPerMB:
		return formatRatio(b, BytesPerMB) + " MB"
	case b >= BytesPerKB:
		return formatRatio(b, BytesPerKB) + " KB"
	default:
		return strconv.FormatInt(b, 10) + " B"
	}
}

func formatRatio(b, unit int64) string {
	whole := b / unit
	frac := (b % unit) * 100 / unit
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	if frac < 10 {
		return strconv.FormatInt(whole, 10) + ".0" + strconv.FormatInt(frac, 10)
	}
	return strconv.FormatInt(whole, 10) + "." + strconv.FormatInt(frac, 10)
}
