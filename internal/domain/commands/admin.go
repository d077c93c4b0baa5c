// Административные команды: остановка, смена сервера и перечитывание
// конфигурации. По умолчанию все закрыты уровнем admin.
package commands

import (
	"strings"

	"ircwit/internal/domain/perms"
)

func init() {
	Register(dieCmd{})
	Register(jumpCmd{})
	Register(rehashCmd{})
	Register(reloadCmd{})
}

// dieCmd корректно останавливает бота.
type dieCmd struct{}

func (dieCmd) Name() string       { return "die" }
func (dieCmd) Summary() string    { return "остановить бота" }
func (dieCmd) Usage() string      { return "die [прощание]" }
func (dieCmd) Level() perms.Level { return perms.LevelAdmin }

func (dieCmd) Execute(req *Request) (Reply, error) {
	reason := "Shutting down"
	if len(req.Args) > 0 {
		reason = strings.Join(req.Args, " ")
	}
	req.Env.Die(reason)
	return Reply{}, nil
}

// jumpCmd переключает бота на другой сервер из списка ротации.
type jumpCmd struct{}

func (jumpCmd) Name() string       { return "jump" }
func (jumpCmd) Summary() string    { return "переподключиться к другому серверу" }
func (jumpCmd) Usage() string      { return "jump [номер|хост]" }
func (jumpCmd) Level() perms.Level { return perms.LevelAdmin }

func (jumpCmd) Execute(req *Request) (Reply, error) {
	target := ""
	if len(req.Args) > 0 {
		target = req.Args[0]
	}
	addr, err := req.Env.Jump(target)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Jumping to " + addr}, nil
}

// rehashCmd перечитывает конфигурацию без паузы рабочих циклов.
type rehashCmd struct{}

func (rehashCmd) Name() string       { return "rehash" }
func (rehashCmd) Summary() string    { return "перечитать конфигурацию" }
func (rehashCmd) Usage() string      { return "rehash" }
func (rehashCmd) Level() perms.Level { return perms.LevelAdmin }

func (rehashCmd) Execute(req *Request) (Reply, error) {
	if err := req.Env.Rehash(); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Rehashed."}, nil
}

// reloadCmd выполняет полную горячую перезагрузку с паузой рабочих циклов.
type reloadCmd struct{}

func (reloadCmd) Name() string       { return "reload" }
func (reloadCmd) Summary() string    { return "горячая перезагрузка с паузой воркеров" }
func (reloadCmd) Usage() string      { return "reload" }
func (reloadCmd) Level() perms.Level { return perms.LevelAdmin }

func (reloadCmd) Execute(req *Request) (Reply, error) {
	if err := req.Env.Reload(); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Reloaded."}, nil
}
