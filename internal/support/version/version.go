// Package version — сведения о сборке, используемые в CTCP VERSION, команде info
// и консоли управления.
package version

const (
	// Name — имя приложения, как оно представляется наружу.
	Name = "ircwit"
	// Version — версия сборки. Обновляется при релизе.
	Version = "1.0.0"
)
