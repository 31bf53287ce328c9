package kafka

import "context"

// DefaultLaneWeight: сколько сообщений приоритетной полосы обрабатывается
// подряд, прежде чем обычная полоса гарантированно получит своё.
const DefaultLaneWeight = 3

// laneScheduler выбирает следующее сообщение из двух полос со взвешенной
// справедливостью: при наличии сообщений в обеих полосах на каждые weight
// приоритетных приходится одно обычное, поэтому обычная полоса не голодает.
type laneScheduler[T any] struct {
	high     chan T
	standard chan T
	weight   int

	// servedHigh считает приоритетные выдачи подряд и защищён lock.
	servedHigh int
	lock       chan struct{}
}

func newLaneScheduler[T any](weight int) *laneScheduler[T] {
	if weight <= 0 {
		weight = DefaultLaneWeight
	}
	return &laneScheduler[T]{
		high:     make(chan T),
		standard: make(chan T),
		weight:   weight,
		lock:     make(chan struct{}, 1),
	}
}

// Lane возвращает канал полосы.
func (s *laneScheduler[T]) Lane(priority bool) chan<- T {
	if priority {
		return s.high
	}
	return s.standard
}

// Next блокируется до появления сообщения в любой из полос или отмены ctx.
func (s *laneScheduler[T]) Next(ctx context.Context) (T, bool) {
	var zero T

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return zero, false
	}
	defer func() { <-s.lock }()

	preferHigh := s.servedHigh < s.weight
	first, second := s.standard, s.high
	if preferHigh {
		first, second = s.high, s.standard
	}

	select {
	case item := <-first:
		s.account(first)
		return item, true
	default:
	}
	select {
	case item := <-second:
		s.account(second)
		return item, true
	default:
	}

	select {
	case item := <-s.high:
		s.account(s.high)
		return item, true
	case item := <-s.standard:
		s.account(s.standard)
		return item, true
	case <-ctx.Done():
		return zero, false
	}
}

func (s *laneScheduler[T]) account(lane chan T) {
	if lane == s.high {
		s.servedHigh++
		return
	}
	s.servedHigh = 0
}
