// Package commands — бот-команды, произносимые в канале с командным префиксом.
// Таблица команд собирается на этапе компиляции через init-регистрацию; во
// время работы меняется только их конфигурация (включённость и требуемый
// уровень доступа), которую роутер перечитывает из снимка на каждом вызове.
package commands

import (
	"context"
	"sort"
	"sync"
	"time"

	"ircwit/internal/domain/perms"
	"ircwit/internal/infra/config"
)

// Env — срез возможностей бота, доступный командам. Реализуется сборкой
// приложения и передаётся в каждый вызов.
type Env interface {
	Snapshot() *config.Snapshot
	ConfigPath() string

	Send(line string) error
	Say(channel, text string, addToHistory bool)
	Notice(nick, text string)

	TopicText(ctx context.Context, channel string) string
	KickText(ctx context.Context, channel string) string

	CurrentNick() string
	CurrentServer() string
	Uptime() time.Duration
	JoinedChannels() []string
	InChannel(channel string) bool
	HasMember(channel, nick string) bool
	IsOp(channel, nick string) bool
	IsProtected(channel, nick string) bool

	SleepChannel(channel string, d time.Duration)
	WakeChannel(channel string)
	Jump(target string) (string, error)
	Rehash() error
	Reload() error
	Die(reason string)

	// Allowed сообщает, доступна ли команда name этому пользователю в канале
	// (включена и уровень достаточен). Нужна help для построения списка.
	Allowed(channel, nick, name string) bool
}

// Reply — результат выполнения команды: текст ответа в канал и признак того,
// что ответ должен попасть в историю разговора.
type Reply struct {
	Text    string
	History bool
}

// Request — контекст одного вызова команды.
type Request struct {
	Ctx     context.Context
	Env     Env
	Channel string
	Nick    string
	IsAdmin bool
	Args    []string
	Prefix  string // командный префикс канала, для текстов подсказок
}

// Command — одна бот-команда.
type Command interface {
	Name() string
	// Summary — однострочное описание для help.
	Summary() string
	// Usage — синтаксис без префикса, например "kick <ник> [повод]".
	Usage() string
	// Level — уровень доступа по умолчанию; конфигурация может переопределить.
	Level() perms.Level
	Execute(req *Request) (Reply, error)
}

var (
	regMu    sync.RWMutex
	registry = make(map[string]Command)
)

// Register добавляет команду в таблицу. Зовётся из init соответствующего файла;
// повторная регистрация имени — ошибка программиста.
func Register(c Command) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[c.Name()]; dup {
		panic("commands: duplicate registration of " + c.Name())
	}
	registry[c.Name()] = c
}

// Lookup возвращает команду по имени.
func Lookup(name string) (Command, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Names возвращает отсортированный список зарегистрированных команд.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
