package commands

import (
	"errors"
	"strings"

	"ircwit/internal/domain/perms"
)

func init() { Register(sayCmd{}) }

// sayCmd произносит текст от имени бота. Первый аргумент, начинающийся с '#',
// трактуется как целевой канал; иначе текст идёт в текущий.
type sayCmd struct{}

func (sayCmd) Name() string       { return "say" }
func (sayCmd) Summary() string    { return "произнести текст от имени бота" }
func (sayCmd) Usage() string      { return "say [#канал] <текст>" }
func (sayCmd) Level() perms.Level { return perms.LevelOp }

func (sayCmd) Execute(req *Request) (Reply, error) {
	args := req.Args
	target := req.Channel
	if len(args) > 0 && strings.HasPrefix(args[0], "#") {
		target = args[0]
		args = args[1:]
	}
	if len(args) == 0 {
		return Reply{Text: "Usage: " + req.Prefix + "say [#канал] <текст>"}, nil
	}
	if !req.Env.InChannel(target) {
		return Reply{}, errors.New("not in channel " + target)
	}
	req.Env.Say(target, strings.Join(args, " "), true)
	return Reply{}, nil
}
