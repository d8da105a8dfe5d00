package vfs

// levenshtein returns the edit distance between a and b using the classic
// dynamic-programming algorithm (one rolling row, O(len(b)) space).
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// NearestPaths returns up to n candidates from paths ordered by ascending
// Levenshtein distance to miss, for surfacing in a vfs_read "not found, did
// you mean..." error body.
func NearestPaths(miss string, paths []string, n int) []string {
	type scored struct {
		path string
		dist int
	}
	scoredPaths := make([]scored, 0, len(paths))
	for _, p := range paths {
		scoredPaths = append(scoredPaths, scored{p, levenshtein(miss, p)})
	}
	// insertion sort: candidate lists are small (one VFS's worth of paths)
	for i := 1; i < len(scoredPaths); i++ {
		for j := i; j > 0 && scoredPaths[j].dist < scoredPaths[j-1].dist; j-- {
			scoredPaths[j], scoredPaths[j-1] = scoredPaths[j-1], scoredPaths[j]
		}
	}
	if n > len(scoredPaths) {
		n = len(scoredPaths)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scoredPaths[i].path
	}
	return out
}
