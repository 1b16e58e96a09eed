package engine

import "strings"

// keySimilarity returns a normalized similarity in [0,1] between two
// knowledge keys, case-insensitive. 1 means identical; containment of one
// key in the other scores at least 0.8.
func keySimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	score := 1 - float64(editDistance(a, b))/float64(longest)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		if score < 0.8 {
			score = 0.8
		}
	}
	return score
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}
	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			min := matrix[i-1][j] + 1
			if ins := matrix[i][j-1] + 1; ins < min {
				min = ins
			}
			if sub := matrix[i-1][j-1] + cost; sub < min {
				min = sub
			}
			matrix[i][j] = min
		}
	}
	return matrix[len(s1)][len(s2)]
}
