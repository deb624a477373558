package coordinator

import "time"

// Clock fornece o instante atual; testes usam um relógio controlável
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
