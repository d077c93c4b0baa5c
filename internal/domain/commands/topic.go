package commands

import (
	"errors"

	"ircwit/internal/domain/perms"
)

func init() { Register(topicCmd{}) }

// topicCmd заменяет топик канала сгенерированным.
type topicCmd struct{}

func (topicCmd) Name() string       { return "topic" }
func (topicCmd) Summary() string    { return "сгенерировать и установить новый топик" }
func (topicCmd) Usage() string      { return "topic" }
func (topicCmd) Level() perms.Level { return perms.LevelOp }

func (topicCmd) Execute(req *Request) (Reply, error) {
	if !req.Env.IsOp(req.Channel, req.Env.CurrentNick()) {
		return Reply{}, errors.New("I need ops to change the topic")
	}
	text := req.Env.TopicText(req.Ctx, req.Channel)
	if text == "" {
		return Reply{}, errors.New("topic generation came back empty")
	}
	if err := req.Env.Send("TOPIC " + req.Channel + " :" + text); err != nil {
		return Reply{}, err
	}
	return Reply{}, nil
}
