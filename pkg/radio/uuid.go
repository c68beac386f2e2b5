package radio

import "strings"

const baseUUIDSuffix = "00001000800000805f9b34fb"

// ShortUUID normalizes a UUID string to lowercase hex without dashes, collapsing UUIDs
// derived from the Bluetooth base UUID to their 16 bit form
func ShortUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, baseUUIDSuffix) {
		return u[4:8]
	}
	return u
}

// LongUUID expands a 16 bit UUID to its full dashed 128 bit form, other UUIDs are
// returned in dashed lowercase form
func LongUUID(uuid string) string {
	u := ShortUUID(uuid)
	if len(u) == 4 {
		u = "0000" + u + baseUUIDSuffix
	}
	if len(u) != 32 {
		return u
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
}

// SameUUID returns if two UUID strings denote the same UUID
func SameUUID(a, b string) bool {
	return ShortUUID(a) == ShortUUID(b)
}
