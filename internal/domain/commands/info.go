// Диагностические команды: сводка о процессе и просмотр действующих значений
// конфигурации с учётом канальных переопределений.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/kr/pretty"

	"ircwit/internal/domain/perms"
	"ircwit/internal/support/version"
)

func init() {
	Register(infoCmd{})
	Register(varCmd{})
}

// infoCmd — краткая сводка о работающем экземпляре.
type infoCmd struct{}

func (infoCmd) Name() string       { return "info" }
func (infoCmd) Summary() string    { return "сводка о работающем экземпляре" }
func (infoCmd) Usage() string      { return "info" }
func (infoCmd) Level() perms.Level { return perms.LevelAny }

func (infoCmd) Execute(req *Request) (Reply, error) {
	up := req.Env.Uptime().Round(time.Second)
	return Reply{Text: fmt.Sprintf("%s v%s | server %s | nick %s | channels %d | uptime %s",
		version.Name, version.Version,
		req.Env.CurrentServer(), req.Env.CurrentNick(),
		len(req.Env.JoinedChannels()), up)}, nil
}

// varCmd показывает действующее значение ключа конфигурации для канала,
// в котором произнесена команда.
type varCmd struct{}

func (varCmd) Name() string       { return "var" }
func (varCmd) Summary() string    { return "действующее значение ключа конфигурации" }
func (varCmd) Usage() string      { return "var <ключ>" }
func (varCmd) Level() perms.Level { return perms.LevelAdmin }

func (varCmd) Execute(req *Request) (Reply, error) {
	if len(req.Args) == 0 {
		return Reply{Text: "Usage: " + req.Prefix + "var <ключ>"}, nil
	}
	key := strings.ToLower(req.Args[0])
	if strings.Contains(key, "key") || strings.Contains(key, "password") {
		return Reply{Text: key + " = <hidden>"}, nil
	}
	val := req.Env.Snapshot().Get(req.Channel, key, nil)
	if val == nil {
		return Reply{Text: key + " is not set"}, nil
	}
	rendered := pretty.Sprintf("%# v", val)
	rendered = strings.Join(strings.Fields(rendered), " ")
	return Reply{Text: key + " = " + rendered}, nil
}
