package commands

import (
	"errors"
	"strings"

	"ircwit/internal/domain/perms"
)

func init() {
	Register(kickCmd{})
	Register(bootCmd{})
}

// checkKickTarget валидирует жертву: бот должен быть оператором, жертва —
// присутствовать, не быть ботом и не входить в защищённый список.
func checkKickTarget(req *Request, target string) error {
	if target == "" {
		return errors.New("no target given")
	}
	if !req.Env.IsOp(req.Channel, req.Env.CurrentNick()) {
		return errors.New("I need ops to kick anyone")
	}
	if strings.EqualFold(target, req.Env.CurrentNick()) {
		return errors.New("nice try")
	}
	if !req.Env.HasMember(req.Channel, target) {
		return errors.New(target + " is not here")
	}
	if req.Env.IsProtected(req.Channel, target) {
		return errors.New(target + " is protected")
	}
	return nil
}

// kickCmd выкидывает пользователя с указанным (или дежурным) поводом.
type kickCmd struct{}

func (kickCmd) Name() string       { return "kick" }
func (kickCmd) Summary() string    { return "выкинуть пользователя из канала" }
func (kickCmd) Usage() string      { return "kick <ник> [повод]" }
func (kickCmd) Level() perms.Level { return perms.LevelOp }

func (kickCmd) Execute(req *Request) (Reply, error) {
	var target string
	if len(req.Args) > 0 {
		target = req.Args[0]
	}
	if err := checkKickTarget(req, target); err != nil {
		return Reply{}, err
	}
	reason := "Requested"
	if len(req.Args) > 1 {
		reason = strings.Join(req.Args[1:], " ")
	}
	return Reply{}, req.Env.Send("KICK " + req.Channel + " " + target + " :" + reason)
}

// bootCmd — kick с поводом, придуманным генеративной моделью.
type bootCmd struct{}

func (bootCmd) Name() string       { return "boot" }
func (bootCmd) Summary() string    { return "выкинуть пользователя со сгенерированным поводом" }
func (bootCmd) Usage() string      { return "boot <ник>" }
func (bootCmd) Level() perms.Level { return perms.LevelOp }

func (bootCmd) Execute(req *Request) (Reply, error) {
	var target string
	if len(req.Args) > 0 {
		target = req.Args[0]
	}
	if err := checkKickTarget(req, target); err != nil {
		return Reply{}, err
	}
	reason := req.Env.KickText(req.Ctx, req.Channel)
	return Reply{}, req.Env.Send("KICK " + req.Channel + " " + target + " :" + reason)
}
