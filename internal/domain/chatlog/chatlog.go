// Package chatlog — ограниченная история разговора по каждому каналу.
// Записи имеют вид «ник: текст»; при переполнении вытесняется самая старая.
// История питает контекст AI-промптов, проверку «последним говорил бот» и
// выбор цели случайного кика. Персистентности нет: это чисто онлайн-агент.
package chatlog

import (
	"strings"
	"sync"

	"ircwit/internal/shared"
)

// DefaultLimit — ёмкость истории канала, если конфигурация не задала иную.
const DefaultLimit = 20

// Entry — одна запись истории: автор и текст.
type Entry struct {
	Speaker string
	Text    string
}

// String возвращает каноническое представление «ник: текст».
func (e Entry) String() string {
	return e.Speaker + ": " + e.Text
}

// Store хранит истории всех каналов. Ключи нормализуются к нижнему регистру.
// Потокобезопасен.
type Store struct {
	mu    sync.Mutex
	rooms map[string][]Entry
	limit func(channel string) int // лимит истории канала; канал уже в нижнем регистре
}

// New создаёт хранилище. limit возвращает ёмкость истории для канала; nil
// означает DefaultLimit для всех.
func New(limit func(channel string) int) *Store {
	if limit == nil {
		limit = func(string) int { return DefaultLimit }
	}
	return &Store{
		rooms: make(map[string][]Entry),
		limit: limit,
	}
}

// Append добавляет запись в историю канала, вытесняя старейшие записи при
// превышении лимита.
func (s *Store) Append(channel, speaker, text string) {
	key := strings.ToLower(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.rooms[key], Entry{Speaker: speaker, Text: text})
	if n := s.limit(key); n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	s.rooms[key] = entries
}

// Tail возвращает последние n записей канала (все, если n <= 0 или записей меньше).
func (s *Store) Tail(channel string, n int) []Entry {
	key := strings.ToLower(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.rooms[key]
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Last возвращает последнюю запись канала и признак её наличия.
func (s *Store) Last(channel string) (Entry, bool) {
	key := strings.ToLower(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.rooms[key]
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// RecentSpeakers возвращает авторов последних n записей без повторов, от самых
// свежих к более старым.
func (s *Store) RecentSpeakers(channel string, n int) []string {
	entries := s.Tail(channel, n)
	speakers := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		speakers = append(speakers, entries[i].Speaker)
	}
	return shared.Unique(speakers)
}

// WasLastSpeaker сообщает, принадлежит ли последняя запись канала нику nick
// (без учёта регистра).
func (s *Store) WasLastSpeaker(channel, nick string) bool {
	last, ok := s.Last(channel)
	if !ok {
		return false
	}
	return strings.EqualFold(last.Speaker, nick)
}

// Trim усекает историю канала до нового лимита. Вызывается при перечитывании
// конфигурации, когда лимит уменьшился.
func (s *Store) Trim(channel string, limit int) {
	if limit <= 0 {
		return
	}
	key := strings.ToLower(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.rooms[key]
	if len(entries) > limit {
		s.rooms[key] = entries[len(entries)-limit:]
	}
}
