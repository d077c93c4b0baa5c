package commands

import (
	"fmt"
	"strconv"
	"time"

	"ircwit/internal/domain/perms"
)

func init() {
	Register(sleepCmd{})
	Register(wakeCmd{})
}

const defaultSleepMinutes = 10

// sleepCmd глушит генерацию в канале на заданное число минут. Верхняя граница
// задаётся ключом sleep_max.
type sleepCmd struct{}

func (sleepCmd) Name() string       { return "sleep" }
func (sleepCmd) Summary() string    { return "заглушить бота в канале на N минут" }
func (sleepCmd) Usage() string      { return "sleep [минуты]" }
func (sleepCmd) Level() perms.Level { return perms.LevelOp }

func (sleepCmd) Execute(req *Request) (Reply, error) {
	minutes := defaultSleepMinutes
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return Reply{Text: "Usage: " + req.Prefix + "sleep [минуты]"}, nil
		}
		minutes = n
	}
	if limit := req.Env.Snapshot().GetInt(req.Channel, "sleep_max", 0); limit > 0 && minutes > limit {
		minutes = limit
	}
	req.Env.SleepChannel(req.Channel, time.Duration(minutes)*time.Minute)
	return Reply{Text: fmt.Sprintf("Zzz... (%d min)", minutes)}, nil
}

// wakeCmd снимает заглушку досрочно.
type wakeCmd struct{}

func (wakeCmd) Name() string       { return "wake" }
func (wakeCmd) Summary() string    { return "разбудить бота досрочно" }
func (wakeCmd) Usage() string      { return "wake" }
func (wakeCmd) Level() perms.Level { return perms.LevelOp }

func (wakeCmd) Execute(req *Request) (Reply, error) {
	req.Env.WakeChannel(req.Channel)
	return Reply{Text: "I'm awake."}, nil
}
