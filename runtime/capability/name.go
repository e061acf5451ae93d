package capability

import "strings"

// MaxNameLen is the hard limit on capability names. Providers cap tool names
// at 64 characters, so every derived name must fit within it.
const MaxNameLen = 64

// greedyLimit bounds the greedy segment assembly in ShortenName. Stopping at
// 60 leaves headroom so the common case never needs the hard truncation.
const greedyLimit = 60

// DeriveName returns the capability name for an operation: the declared
// identifier when present, otherwise a name synthesized from the method and
// path. The result is shortened to fit MaxNameLen.
func DeriveName(method, path, operationID string) string {
	name := operationID
	if name == "" {
		cleaned := strings.NewReplacer("/", "_", "{", "", "}", "").Replace(path)
		name = strings.ToLower(method) + "_" + cleaned
	}
	return ShortenName(name)
}

// ShortenName deterministically shortens a candidate name to at most
// MaxNameLen characters while keeping it meaningful. Names within the limit
// are returned unchanged. Longer names are split on underscores: the first two
// segments are always kept, further segments are appended greedily while the
// running length stays within greedyLimit, and anything still over the limit
// after assembly is hard-truncated to MaxNameLen.
//
// The algorithm is order-preserving and stable: equal inputs always produce
// equal outputs, so recompiling a document yields identical capability names.
func ShortenName(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	parts := strings.Split(name, "_")
	if len(parts) > 3 {
		short := parts[0] + "_" + parts[1]
		if len(short) < 50 {
			for _, part := range parts[2:] {
				if len(short)+1+len(part) <= greedyLimit {
					short += "_" + part
				} else {
					break
				}
			}
		}
		name = short
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	return name
}
