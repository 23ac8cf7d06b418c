package inventory

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Match is an item scored against a search query.
type Match struct {
	Item  Item
	Score float64
}

// RankByTitle scores items by how close their title is to the query and
// returns those scoring at least threshold, best first.
func RankByTitle(query string, items []Item, threshold float64) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var out []Match
	for _, item := range items {
		title := strings.ToLower(item.Title)
		score := matchr.JaroWinkler(query, title, false)
		if strings.Contains(title, query) {
			score = 1
		}
		if score < threshold {
			continue
		}
		out = append(out, Match{Item: item, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Item.Title < out[j].Item.Title
		}
		return out[i].Score > out[j].Score
	})
	return out
}
