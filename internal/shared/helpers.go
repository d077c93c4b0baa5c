// Package shared — небольшие общие утилиты без внешних зависимостей.
// Содержит обобщённые функции для работы со слайсами и числовыми диапазонами.
// Фокус: безопасные операции без паник, сохранение порядка и простая семантика.
package shared

import "math/rand"

// Unique возвращает срез уникальных значений, сохраняя порядок первого появления.
// Работает для любых типов с сравнимостью (comparable). Сложность O(n) по времени
// и O(n) по памяти на карту «виденных» значений. Порядок стабильный.
func Unique[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GetAt безопасно возвращает элемент слайса по индексу i. В случае выхода за
// границы возвращает нулевое значение типа T и false, без паники.
func GetAt[T any](s []T, i int) (T, bool) {
	if i < 0 || i >= len(s) {
		var zero T
		return zero, false
	}
	return s[i], true
}

// RandomFloat возвращает псевдослучайное число в диапазоне [fromMin, toMax].
// Если fromMin >= toMax, возвращается fromMin. Криптостойкость не требуется,
// поэтому math/rand/v2 используется осознанно. #nosec G404
func RandomFloat(fromMin, toMax float64) float64 {
	if fromMin >= toMax {
		return fromMin
	}
	return fromMin + rand.Float64()*(toMax-fromMin)
}

// Pick возвращает случайный элемент непустого среза. Для пустого среза
// возвращает нулевое значение и false.
func Pick[T any](s []T) (T, bool) {
	if len(s) == 0 {
		var zero T
		return zero, false
	}
	return s[rand.Intn(len(s))], true // #nosec G404
}
