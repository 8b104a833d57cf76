package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var wordPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\d+`)

// lexicalSearch ranks segments by the Ochiai coefficient of their token sets
// against the query's, |A∩B| / sqrt(|A||B|). Distance is 1 - coefficient.
func lexicalSearch(query string, segments []string, k int) []Clause {
	qset := tokenSet(query)
	clauses := make([]Clause, len(segments))
	for i, text := range segments {
		clauses[i] = Clause{ClauseID: i, Text: text, Distance: 1 - ochiai(qset, tokenSet(text))}
	}
	sort.SliceStable(clauses, func(a, b int) bool { return clauses[a].Distance < clauses[b].Distance })
	if k > len(clauses) {
		k = len(clauses)
	}
	return clauses[:k]
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
