// Package perms — контроль доступа: распознавание администраторов и проверка
// прав на бот-команды.
//
// Администратор задаётся упорядоченным списком шаблонов, каждый из которых:
//   - простой ник (точное совпадение без учёта регистра),
//   - имя учётной записи сервисов сети (совпадает с account идентичности),
//   - маска с подстановочными знаками IRC (* и ?) против канонической формы
//     nick!ident@host.
//
// Результат IsAdmin мемоизируется на 60 секунд по паре (ник, userhost); кэш
// сбрасывается при перечитывании конфигурации через SetPatterns.
package perms

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// CacheTTL — срок жизни записи в кэше решений IsAdmin.
const CacheTTL = 60 * time.Second

// Identity — наблюдаемая идентичность пользователя сети.
type Identity struct {
	Nick    string
	Ident   string
	Host    string
	Account string
}

// UserHost возвращает каноническую форму nick!ident@host для матчинга масок.
func (id Identity) UserHost() string {
	return id.Nick + "!" + id.Ident + "@" + id.Host
}

// Level — требуемый уровень доступа команды.
type Level string

const (
	LevelAny   Level = "any"
	LevelVoice Level = "voice"
	LevelOp    Level = "op"
	LevelAdmin Level = "admin"
)

// Checker распознаёт администраторов по списку шаблонов. Потокобезопасен.
type Checker struct {
	mu       sync.Mutex
	patterns []pattern
	cache    map[string]cacheEntry
	now      func() time.Time
}

type pattern struct {
	raw  string
	mask *regexp.Regexp // nil для простых ников и аккаунтов
}

type cacheEntry struct {
	admin   bool
	expires time.Time
}

// Option настраивает Checker при создании.
type Option func(*Checker)

// WithNow подменяет источник времени для тестов.
func WithNow(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// New создаёт Checker c заданным списком шаблонов администраторов.
func New(patterns []string, opts ...Option) *Checker {
	c := &Checker{
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.setPatternsLocked(patterns)
	return c
}

// SetPatterns заменяет список шаблонов и сбрасывает кэш решений. Вызывается
// контроллером перезагрузки после подмены конфигурации.
func (c *Checker) SetPatterns(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPatternsLocked(patterns)
	c.cache = make(map[string]cacheEntry)
}

func (c *Checker) setPatternsLocked(raw []string) {
	compiled := make([]pattern, 0, len(raw))
	for _, p := range raw {
		entry := pattern{raw: p}
		if strings.ContainsAny(p, "*?!@") {
			entry.mask = compileMask(p)
		}
		compiled = append(compiled, entry)
	}
	c.patterns = compiled
}

// IsAdmin решает, является ли идентичность администратором. Решение
// мемоизируется на CacheTTL по паре (ник, userhost).
func (c *Checker) IsAdmin(id Identity) bool {
	key := strings.ToLower(id.Nick) + "|" + strings.ToLower(id.UserHost())
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.cache[key]; ok && now.Before(entry.expires) {
		return entry.admin
	}

	admin := c.matchLocked(id)
	c.cache[key] = cacheEntry{admin: admin, expires: now.Add(CacheTTL)}
	return admin
}

// matchLocked перебирает шаблоны в порядке конфигурации. Вызывающий удерживает mu.
func (c *Checker) matchLocked(id Identity) bool {
	userhost := id.UserHost()
	for _, p := range c.patterns {
		if p.mask != nil {
			if p.mask.MatchString(userhost) {
				return true
			}
			continue
		}
		if strings.EqualFold(p.raw, id.Nick) {
			return true
		}
		if id.Account != "" && strings.EqualFold(p.raw, id.Account) {
			return true
		}
	}
	return false
}

// Authorize проверяет, достаточно ли прав для команды с уровнем level.
// Администраторы проходят всегда; уровень admin закрыт для остальных;
// op требует операторского флага; voice — голоса или операторства.
func Authorize(level Level, isAdmin, isOp, isVoice bool) bool {
	if isAdmin {
		return true
	}
	switch level {
	case LevelAdmin:
		return false
	case LevelOp:
		return isOp
	case LevelVoice:
		return isVoice || isOp
	default:
		return true
	}
}

// compileMask переводит маску IRC в анкерованное регулярное выражение без
// учёта регистра: * — нежадное .*?, ? — одиночный символ, остальное экранируется.
func compileMask(mask string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range mask {
		switch r {
		case '*':
			sb.WriteString(".*?")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		// Некорректная маска не должна ронять загрузку конфигурации:
		// шаблон просто никогда не совпадёт.
		return regexp.MustCompile(`$^`)
	}
	return re
}
