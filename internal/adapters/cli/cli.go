// Package cli — локальная интерактивная консоль оператора поверх readline.
// Доступна в форграунд-режиме; позволяет говорить от имени бота, смотреть
// состояние и управлять перезагрузкой без захода в сеть.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"ircwit/internal/infra/logger"
)

// Bot — срез приложения, нужный консоли.
type Bot interface {
	CurrentNick() string
	CurrentServer() string
	Connected() bool
	JoinedChannels() []string
	Uptime() time.Duration
	Say(channel, text string, addToHistory bool)
	Rehash() error
	Reload() error
	Die(reason string)
}

// Console — интерактивная консоль.
type Console struct {
	bot Bot
}

// New создаёт консоль.
func New(bot Bot) *Console {
	return &Console{bot: bot}
}

// Run крутит цикл чтения команд до EOF, команды exit или отмены ctx.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ircwit> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("cli: init readline: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c.execute(line) {
			return nil
		}
	}
}

// execute выполняет одну команду; true означает выход из консоли.
func (c *Console) execute(line string) (quit bool) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help":
		fmt.Println("Команды: status, say <#канал> <текст>, rehash, reload, die [прощание], exit")
	case "status":
		state := "отключён"
		if c.bot.Connected() {
			state = "на " + c.bot.CurrentServer()
		}
		fmt.Printf("%s %s | каналы: %s | аптайм %s\n",
			c.bot.CurrentNick(), state,
			strings.Join(c.bot.JoinedChannels(), ", "),
			c.bot.Uptime().Round(time.Second))
	case "say":
		if len(args) < 2 || !strings.HasPrefix(args[0], "#") {
			fmt.Println("Использование: say <#канал> <текст>")
			return false
		}
		c.bot.Say(args[0], strings.Join(args[1:], " "), true)
	case "rehash":
		if err := c.bot.Rehash(); err != nil {
			fmt.Println("rehash:", err)
		} else {
			fmt.Println("Конфигурация перечитана.")
		}
	case "reload":
		if err := c.bot.Reload(); err != nil {
			fmt.Println("reload:", err)
		} else {
			fmt.Println("Перезагрузка выполнена.")
		}
	case "die":
		reason := "Console shutdown"
		if len(args) > 0 {
			reason = strings.Join(args, " ")
		}
		c.bot.Die(reason)
		return true
	case "exit", "quit":
		c.bot.Die("Console exit")
		return true
	default:
		logger.Debugf("cli: неизвестная команда %q", cmd)
		fmt.Println("Неизвестная команда, см. help")
	}
	return false
}
