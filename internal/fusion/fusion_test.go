package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(contents ...string) []Item {
	out := make([]Item, len(contents))
	for i, c := range contents {
		out[i] = Item{Content: c, Metadata: map[string]any{"document_id": "d1"}}
	}
	return out
}

func contents(fused []Fused) []string {
	out := make([]string, len(fused))
	for i, f := range fused {
		out[i] = f.Item.Content
	}
	return out
}

func TestReciprocal_Empty(t *testing.T) {
	assert.Empty(t, Reciprocal(nil, 60))
	assert.NotNil(t, Reciprocal(nil, 60))
	assert.Empty(t, Reciprocal([][]Item{{}, {}}, 60))
}

func TestReciprocal_Scores(t *testing.T) {
	fused := Reciprocal([][]Item{
		items("a", "b", "c"),
		items("b", "a"),
	}, 60)

	require.Len(t, fused, 3)
	// a: 1/60 + 1/61, b: 1/61 + 1/60, c: 1/62. a and b tie; a was seen first.
	assert.Equal(t, []string{"a", "b", "c"}, contents(fused))
	assert.InDelta(t, 1.0/60+1.0/61, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/60+1.0/61, fused[1].Score, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].Score, 1e-12)
	assert.Equal(t, 2, fused[0].Hits)
	assert.Equal(t, 1, fused[2].Hits)
}

func TestReciprocal_ConsistencyBeatsSingleSpike(t *testing.T) {
	fused := Reciprocal([][]Item{
		items("spike", "steady"),
		items("x", "steady"),
		items("y", "steady"),
	}, 60)

	assert.Equal(t, "steady", fused[0].Item.Content)
}

func TestReciprocal_DefaultK(t *testing.T) {
	withDefault := Reciprocal([][]Item{items("a")}, 0)
	explicit := Reciprocal([][]Item{items("a")}, DefaultK)
	assert.Equal(t, explicit[0].Score, withDefault[0].Score)

	negative := Reciprocal([][]Item{items("a")}, -3)
	assert.Equal(t, explicit[0].Score, negative[0].Score)
}

func TestReciprocal_SmallKRewardsTopRank(t *testing.T) {
	lists := [][]Item{
		items("top", "x1", "x2", "x3"),
		items("y1", "y2", "y3", "mid"),
		items("z1", "z2", "z3", "mid"),
	}
	// With k=1, top (1/1) beats mid (1/4 + 1/4); with k=60 mid's two
	// appearances win.
	assert.Equal(t, "top", Reciprocal(lists, 1)[0].Item.Content)
	assert.Equal(t, "mid", Reciprocal(lists, 60)[0].Item.Content)
}

func TestReciprocal_IdentityNormalizesWhitespace(t *testing.T) {
	fused := Reciprocal([][]Item{
		items("the  quick\nfox"),
		items(" the quick fox "),
	}, 60)

	require.Len(t, fused, 1)
	assert.Equal(t, 2, fused[0].Hits)
	assert.Equal(t, "the  quick\nfox", fused[0].Item.Content)
}

func TestReciprocal_MetadataIsPartOfIdentity(t *testing.T) {
	fused := Reciprocal([][]Item{
		{{Content: "same", Metadata: map[string]any{"section_id": "s1"}}},
		{{Content: "same", Metadata: map[string]any{"section_id": "s2"}}},
	}, 60)
	assert.Len(t, fused, 2)
}

func TestReciprocal_ListOrderDoesNotChangeScores(t *testing.T) {
	a := items("p", "q", "r")
	b := items("r", "s")
	c := items("q", "p", "s")

	forward := Reciprocal([][]Item{a, b, c}, 60)
	backward := Reciprocal([][]Item{c, b, a}, 60)

	scores := func(fused []Fused) map[string]float64 {
		out := make(map[string]float64)
		for _, f := range fused {
			out[f.Item.Content] = f.Score
		}
		return out
	}
	f, r := scores(forward), scores(backward)
	require.Len(t, r, len(f))
	for k, v := range f {
		assert.InDelta(t, v, r[k], 1e-12, k)
	}
}

// rankedLists places x and y at the given ranks in depth-10 lists padded
// with per-list fillers.
func rankedLists(xRanks, yRanks []int) [][]Item {
	lists := make([][]Item, len(xRanks))
	for i := range xRanks {
		list := make([]string, 10)
		for j := range list {
			list[j] = fmt.Sprintf("filler %d-%d", i, j)
		}
		list[xRanks[i]] = "x"
		list[yRanks[i]] = "y"
		lists[i] = items(list...)
	}
	return lists
}

func TestReciprocal_EqualRanksTieByFirstSeen(t *testing.T) {
	// Same rank multiset, different order across five lists. y is seen
	// first, at rank 0 of the first list.
	fused := Reciprocal(rankedLists([]int{5, 2, 9, 0, 8}, []int{0, 8, 5, 9, 2}), 60)

	pos := map[string]int{}
	for i, f := range fused {
		pos[f.Item.Content] = i
	}
	require.Contains(t, pos, "x")
	require.Contains(t, pos, "y")
	assert.Equal(t, fused[pos["x"]].Score, fused[pos["y"]].Score)
	assert.Equal(t, 0, pos["y"])
	assert.Equal(t, 1, pos["x"])
}

func TestReciprocal_ManyListsOrderIndependent(t *testing.T) {
	docs := make([]string, 10)
	for i := range docs {
		docs[i] = fmt.Sprintf("d%d", i)
	}
	var lists [][]Item
	for shift := range docs {
		rotated := append(append([]string{}, docs[shift:]...), docs[:shift]...)
		lists = append(lists, items(rotated...))
	}
	reversed := make([][]Item, len(lists))
	for i := range lists {
		reversed[len(lists)-1-i] = lists[i]
	}

	scores := func(fused []Fused) map[string]float64 {
		out := make(map[string]float64)
		for _, f := range fused {
			out[f.Item.Content] = f.Score
		}
		return out
	}
	forward, backward := scores(Reciprocal(lists, 60)), scores(Reciprocal(reversed, 60))
	require.Len(t, forward, len(docs))
	assert.Equal(t, forward, backward)
	for _, d := range docs {
		assert.Equal(t, forward["d0"], forward[d], d)
	}

	// Every document ties, so output follows first-seen order.
	assert.Equal(t, docs, contents(Reciprocal(lists, 60)))
}

func TestKey(t *testing.T) {
	a := Key(Item{Content: "x  y", Metadata: map[string]any{"b": "2", "a": "1"}})
	b := Key(Item{Content: "x y", Metadata: map[string]any{"a": "1", "b": "2"}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, Key(Item{Content: "x"}), Key(Item{Content: "x", Metadata: map[string]any{"a": "1"}}))
}
