package tuple

import "fmt"

// Wrapper of 2 values which should be passed around together.
func PairOf[A, B any](a A, b B) Pair[A, B] {
	return Pair[A, B]{First: a, Second: b}
}

type Pair[A, B any] struct {
	First  A
	Second B
}

func (p Pair[A, B]) Decompose() (A, B) {
	return p.First, p.Second
}

func (p Pair[A, B]) String() string {
	return fmt.Sprintf(`Pair{%v, %v}`, p.First, p.Second)
}
