package utils

import "strings"

// reservedTagPrefix marks tags managed by AWS that cannot be set by users.
const reservedTagPrefix = "aws:"

// UserTags returns a copy of tags without AWS reserved keys. Returns nil
// when nothing is left.
func UserTags(tags map[string]string) map[string]string {
	var out map[string]string
	for k, v := range tags {
		if strings.HasPrefix(k, reservedTagPrefix) {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(tags))
		}
		out[k] = v
	}
	return out
}
