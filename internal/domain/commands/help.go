package commands

import (
	"strings"

	"ircwit/internal/domain/perms"
)

func init() { Register(helpCmd{}) }

// helpCmd перечисляет команды, доступные автору запроса в этом канале, или
// показывает подсказку по конкретной команде.
type helpCmd struct{}

func (helpCmd) Name() string       { return "help" }
func (helpCmd) Summary() string    { return "список доступных команд или подсказка по одной" }
func (helpCmd) Usage() string      { return "help [команда]" }
func (helpCmd) Level() perms.Level { return perms.LevelAny }

func (helpCmd) Execute(req *Request) (Reply, error) {
	if len(req.Args) > 0 {
		name := strings.ToLower(req.Args[0])
		cmd, ok := Lookup(name)
		if !ok || !req.Env.Allowed(req.Channel, req.Nick, name) {
			return Reply{Text: "Unknown command: " + name}, nil
		}
		return Reply{Text: req.Prefix + cmd.Usage() + " — " + cmd.Summary()}, nil
	}

	var avail []string
	for _, name := range Names() {
		if req.Env.Allowed(req.Channel, req.Nick, name) {
			avail = append(avail, req.Prefix+name)
		}
	}
	if len(avail) == 0 {
		return Reply{}, nil
	}
	return Reply{Text: "Commands: " + strings.Join(avail, " ")}, nil
}
