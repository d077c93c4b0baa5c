// Кодек строк протокола: разбор и сборка сообщений вида
//
//	[":" префикс SP] команда {SP параметр} [SP ":" хвост]
//
// Разбор и сборка взаимно обратны с точностью до байта: хвостовой маркер ":"
// сохраняется даже для пустого хвоста и хвоста без пробелов.
package irc

import (
	"strings"
)

// MaxLineLen — предел длины исходящей строки вместе с CRLF.
const MaxLineLen = 512

// Prefix — разобранный источник сообщения. Для серверных префиксов без
// "!"/"@" заполняется только Nick (именем сервера).
type Prefix struct {
	Nick string
	User string
	Host string
}

// String восстанавливает каноническую форму префикса.
func (p Prefix) String() string {
	out := p.Nick
	if p.User != "" {
		out += "!" + p.User
	}
	if p.Host != "" {
		out += "@" + p.Host
	}
	return out
}

// IsServer сообщает, похож ли префикс на имя сервера, а не на пользователя.
func (p Prefix) IsServer() bool {
	return p.User == "" && p.Host == "" && strings.Contains(p.Nick, ".")
}

// Message — одна строка протокола в разобранном виде.
type Message struct {
	Prefix      Prefix
	RawPrefix   string // префикс как пришёл, без ведущего ":"
	Command     string // команда или трёхзначный код
	Params      []string
	Trailing    string
	HasTrailing bool // хвост присутствовал в строке (в т.ч. пустой)
}

// ParsePrefix разбирает nick!user@host; части user и host необязательны.
func ParsePrefix(raw string) Prefix {
	p := Prefix{Nick: raw}
	if at := strings.LastIndex(p.Nick, "@"); at >= 0 {
		p.Host = p.Nick[at+1:]
		p.Nick = p.Nick[:at]
	}
	if ex := strings.Index(p.Nick, "!"); ex >= 0 {
		p.User = p.Nick[ex+1:]
		p.Nick = p.Nick[:ex]
	}
	return p
}

// Parse разбирает одну строку протокола (без CRLF). Возвращает ok=false для
// пустых и бессодержательных строк.
func Parse(line string) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	var m Message

	rest := line
	if strings.HasPrefix(rest, ":") {
		sp := strings.Index(rest, " ")
		if sp < 0 {
			return m, false
		}
		m.RawPrefix = rest[1:sp]
		m.Prefix = ParsePrefix(m.RawPrefix)
		rest = rest[sp+1:]
	}

	for rest != "" {
		if strings.HasPrefix(rest, ":") && m.Command != "" {
			m.Trailing = rest[1:]
			m.HasTrailing = true
			break
		}
		token := rest
		if sp := strings.Index(rest, " "); sp >= 0 {
			token = rest[:sp]
			rest = rest[sp+1:]
		} else {
			rest = ""
		}
		if token == "" {
			continue
		}
		if m.Command == "" {
			m.Command = strings.ToUpper(token)
		} else {
			m.Params = append(m.Params, token)
		}
	}

	if m.Command == "" {
		return m, false
	}
	return m, true
}

// String собирает строку протокола обратно (без CRLF).
func (m Message) String() string {
	var sb strings.Builder
	if m.RawPrefix != "" {
		sb.WriteString(":")
		sb.WriteString(m.RawPrefix)
		sb.WriteString(" ")
	}
	sb.WriteString(m.Command)
	for _, p := range m.Params {
		sb.WriteString(" ")
		sb.WriteString(p)
	}
	if m.HasTrailing {
		sb.WriteString(" :")
		sb.WriteString(m.Trailing)
	}
	return sb.String()
}

// Param возвращает i-й параметр или пустую строку, если его нет.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// IsNumeric сообщает, является ли команда трёхзначным числовым кодом.
func (m Message) IsNumeric() bool {
	if len(m.Command) != 3 {
		return false
	}
	for _, r := range m.Command {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CTCP-кадрирование: запрос и ответ оборачиваются в байты 0x01.
const ctcpDelim = "\x01"

// ParseCTCP выделяет из текста PRIVMSG запрос CTCP. Возвращает тег в верхнем
// регистре, аргументы и признак того, что текст был CTCP-кадром.
func ParseCTCP(text string) (tag, args string, ok bool) {
	if len(text) < 2 || !strings.HasPrefix(text, ctcpDelim) {
		return "", "", false
	}
	body := strings.TrimSuffix(text[1:], ctcpDelim)
	if body == "" {
		return "", "", false
	}
	tag, args, _ = strings.Cut(body, " ")
	return strings.ToUpper(tag), args, true
}

// FormatCTCPReply собирает текст NOTICE-ответа на CTCP-запрос.
func FormatCTCPReply(tag, args string) string {
	if args == "" {
		return ctcpDelim + tag + ctcpDelim
	}
	return ctcpDelim + tag + " " + args + ctcpDelim
}
