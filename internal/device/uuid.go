package device

import "strings"

// sigBaseSuffix is the Bluetooth SIG base UUID tail (0000xxxx-0000-1000-8000-00805f9b34fb)
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix. For full 128-bit UUIDs in the Bluetooth SIG base format
// the 16-bit short form is returned.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
