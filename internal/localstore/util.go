package localstore

import "sort"

// dedupeSorted sorts keys and drops duplicates (SCAN may return a key twice).
func dedupeSorted(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, key := range keys {
		if i > 0 && key == keys[i-1] {
			continue
		}
		out = append(out, key)
	}
	return out
}
