// Package ratelimit — токен-бакет с ленивым пополнением для исходящего трафика.
// В отличие от блокирующих лимитеров, Acquire не спит сам: он возвращает
// длительность, которую вызывающий должен выждать в собственной точке
// приостановки. Это позволяет писателю уважать паузу перезагрузки и отмену
// контекста, не зависая внутри лимитера.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket — потокобезопасный токен-бакет. Токены прирастают со скоростью rate
// токенов в секунду до ёмкости capacity; каждый Acquire списывает один токен.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
	now      func() time.Time // источник времени; подменяется в тестах
}

// Значения по умолчанию: короткий burst на старте и один токен в секунду далее.
const (
	DefaultCapacity = 4
	DefaultRate     = 1.0
)

// Option настраивает бакет при создании.
type Option func(*Bucket)

// WithNow подменяет источник времени. Используется в детерминированных тестах.
func WithNow(now func() time.Time) Option {
	return func(b *Bucket) {
		if now != nil {
			b.now = now
		}
	}
}

// New создаёт бакет с заданной ёмкостью и скоростью пополнения. Некорректные
// значения заменяются умолчаниями. Бакет стартует полным.
func New(capacity int, rate float64, opts ...Option) *Bucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	b := &Bucket{
		capacity: float64(capacity),
		rate:     rate,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = b.capacity
	b.last = b.now()
	return b
}

// Acquire списывает токен и возвращает 0, если токен доступен немедленно,
// иначе — время до появления следующего токена. Пополнение ленивое: токены
// доначисляются по прошедшему времени при каждом вызове.
func (b *Bucket) Acquire() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	wait := (1 - b.tokens) / b.rate
	return time.Duration(wait * float64(time.Second))
}

// refillLocked доначисляет токены по времени, прошедшему с прошлого обращения.
// Вызывающий удерживает mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.last = now
}

// Tokens возвращает текущее число токенов (после ленивого пополнения).
// Полезно для диагностики.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
