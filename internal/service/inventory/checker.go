// Package inventory принимает решение о резервировании склада по событию
// OrderCreated и публикует StockReserved или StockUnavailable.
package inventory

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// DefaultAvailabilityRate: доля доступных позиций у случайной проверки.
const DefaultAvailabilityRate = 0.8

// AvailabilityChecker: предикат доступности одной позиции.
// Ошибка означает сбой источника остатков и приводит к повторной доставке.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, item events.Item) (bool, error)
}

// CheckerFunc адаптирует функцию к AvailabilityChecker.
type CheckerFunc func(ctx context.Context, item events.Item) (bool, error)

func (f CheckerFunc) IsAvailable(ctx context.Context, item events.Item) (bool, error) {
	return f(ctx, item)
}

// RandomChecker считает позицию доступной с заданной вероятностью.
type RandomChecker struct {
	rate float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandomChecker создаёт случайную проверку. rate ограничивается отрезком [0, 1].
// seed позволяет воспроизвести последовательность решений.
func NewRandomChecker(rate float64, seed uint64) *RandomChecker {
	switch {
	case rate < 0:
		rate = 0
	case rate > 1:
		rate = 1
	}
	return &RandomChecker{
		rate: rate,
		rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (c *RandomChecker) IsAvailable(_ context.Context, _ events.Item) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rand.Float64() < c.rate, nil
}

// StaticChecker: настраиваемая проверка: перечисленные SKU недоступны,
// остальные доступны. Используется в тестах и при локальном запуске.
type StaticChecker struct {
	mu          sync.Mutex
	unavailable map[string]struct{}
	err         error
	calls       int
}

// NewStaticChecker создаёт проверку с заданным набором недоступных SKU.
func NewStaticChecker(unavailableSKUs ...string) *StaticChecker {
	c := &StaticChecker{unavailable: make(map[string]struct{}, len(unavailableSKUs))}
	for _, sku := range unavailableSKUs {
		c.unavailable[sku] = struct{}{}
	}
	return c
}

// SetUnavailable помечает SKU недоступными.
func (c *StaticChecker) SetUnavailable(skus ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sku := range skus {
		c.unavailable[sku] = struct{}{}
	}
}

// FailWith заставляет проверку возвращать err (nil снимает сбой).
func (c *StaticChecker) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls возвращает число проверок.
func (c *StaticChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *StaticChecker) IsAvailable(_ context.Context, item events.Item) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	_, missing := c.unavailable[item.SKU]
	return !missing, nil
}

var (
	_ AvailabilityChecker = (*RandomChecker)(nil)
	_ AvailabilityChecker = (*StaticChecker)(nil)
	_ AvailabilityChecker = CheckerFunc(nil)
)
