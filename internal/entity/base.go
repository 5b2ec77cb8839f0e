package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// AssetString renders a context reference as a tag, e.g. "course_17".
func AssetString(contextType string, contextID int64) string {
	return fmt.Sprintf("%s_%d", contextType, contextID)
}

// ParseAssetString splits a tag like "course_17" into its context type and
// id. Returns ok=false for anything that is not a type_id pair.
func ParseAssetString(tag string) (contextType string, contextID int64, ok bool) {
	idx := strings.LastIndex(tag, "_")
	if idx <= 0 || idx == len(tag)-1 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(tag[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return tag[:idx], id, true
}

// UnionTags merges tag lists preserving first-seen order.
func UnionTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// IntersectTags keeps tags of a that also appear in b, preserving a's order.
func IntersectTags(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	var out []string
	for _, t := range a {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
