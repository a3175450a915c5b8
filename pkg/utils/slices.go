package utils

// map each element in sli.
//
// args:
//   - sli : slice of `T`s
//   - mapper : mapping function from T to R
//
// return:
//
//	slice of `R`s. each element indexed `N` is given with `mapper(sli[N])` .
func Map[T any, R any](sli []T, mapper func(v T) R) []R {
	ret := make([]R, len(sli))
	for nth, v := range sli {
		ret[nth] = mapper(v)
	}
	return ret
}

// flatten map to slice of its keys.
func KeysOf[T any, K comparable](m map[K]T) []K {
	sli := make([]K, 0, len(m))
	for k := range m {
		sli = append(sli, k)
	}
	return sli
}

// filter elements match with predicator.
func Filter[T any](sli []T, predicator func(v T) bool) []T {
	ret := []T{}
	for _, v := range sli {
		if predicator(v) {
			ret = append(ret, v)
		}
	}
	return ret
}

// true if predicator returns true for some element in sli.
func Anything[T any](sli []T, predicator func(v T) bool) bool {
	for _, v := range sli {
		if predicator(v) {
			return true
		}
	}
	return false
}
