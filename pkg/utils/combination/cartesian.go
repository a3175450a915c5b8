package combination

import "github.com/nialab/neuropipe/pkg/utils/tuple"

// cartesian product of 2 slices, (as × bs), in order.
//
// # Example:
//
//	Pairs([]string{"a", "b"}, []int{1, 2})
//
// generates
//
//	[]tuple.Pair[string, int]{
//		{"a", 1}, {"a", 2},
//		{"b", 1}, {"b", 2},
//	}
//
// If any of as or bs is empty, the product is empty.
func Pairs[A, B any](as []A, bs []B) []tuple.Pair[A, B] {
	ret := make([]tuple.Pair[A, B], 0, len(as)*len(bs))
	for _, a := range as {
		for _, b := range bs {
			ret = append(ret, tuple.PairOf(a, b))
		}
	}
	return ret
}
