// Package fusion merges ranked result lists with reciprocal rank fusion.
//
// Raw similarity scores from independent searches are not comparable, so
// fusion looks only at ranks: an item scores the sum of 1/(rank+k) over every
// list it appears in, with 0-based ranks. Items ranked high by many query
// variants beat an item ranked first by one.
package fusion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultK is the damping constant used when k <= 0.
const DefaultK = 60.0

// Item is one entry of a ranked list.
type Item struct {
	Content  string
	Metadata map[string]any

	// Score is the backing search's similarity. Fusion ignores it.
	Score float32
}

// Fused is an item with its fused score.
type Fused struct {
	Item  Item
	Score float64

	// Hits is the number of lists the item appeared in.
	Hits int
}

// Key identifies an item across lists: whitespace-collapsed content plus
// canonical JSON of its metadata.
func Key(item Item) string {
	content := strings.Join(strings.Fields(item.Content), " ")
	if len(item.Metadata) == 0 {
		return content
	}
	// encoding/json sorts map keys.
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		meta = []byte(fmt.Sprint(item.Metadata))
	}
	return content + "\x00" + string(meta)
}

// Reciprocal fuses lists by RRF. The result is ordered by score descending,
// ties keeping the order in which items were first seen. The first-seen
// occurrence supplies the returned Item.
func Reciprocal(lists [][]Item, k float64) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	index := make(map[string]int)
	var fused []Fused
	var ranks [][]int
	for _, list := range lists {
		for rank, item := range list {
			key := Key(item)
			i, ok := index[key]
			if !ok {
				i = len(fused)
				index[key] = i
				fused = append(fused, Fused{Item: item})
				ranks = append(ranks, nil)
			}
			ranks[i] = append(ranks[i], rank)
			fused[i].Hits++
		}
	}

	// Summing over sorted ranks makes equal rank multisets produce
	// bit-identical scores regardless of list order.
	for i := range fused {
		sort.Ints(ranks[i])
		for _, rank := range ranks[i] {
			fused[i].Score += 1 / (float64(rank) + k)
		}
	}

	sort.SliceStable(fused, func(a, b int) bool {
		return fused[a].Score > fused[b].Score
	})
	if fused == nil {
		return []Fused{}
	}
	return fused
}
