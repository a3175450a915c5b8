package cmp

// true iff a and b have same elements in same order.
func SliceEq[T comparable](a, b []T) bool {
	return SliceEqWith(a, b, func(x, y T) bool { return x == y })
}

// true iff a[n] and b[n] are matched with eq, for every n.
func SliceEqWith[T, U any](a []T, b []U, eq func(T, U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !eq(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// true iff a and b have same elements, ignoring order and repetition.
func SliceContentEq[T comparable](a, b []T) bool {
	return SliceSubsetOf(a, b) && SliceSubsetOf(b, a)
}

// true iff every element of sub is found in super.
func SliceSubsetOf[T comparable](sub, super []T) bool {
	pool := map[T]struct{}{}
	for _, s := range super {
		pool[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := pool[s]; !ok {
			return false
		}
	}
	return true
}
