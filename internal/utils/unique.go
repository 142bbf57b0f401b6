package utils

// CountUniqueStrings returns the number of distinct values in keys.
func CountUniqueStrings(keys []string) int {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return len(set)
}

// CountUniqueBytes returns the number of distinct byte keys.
func CountUniqueBytes(keys [][]byte) int {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[string(k)] = struct{}{}
	}
	return len(set)
}
