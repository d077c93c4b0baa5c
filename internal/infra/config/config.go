// Package config отвечает за загрузку и предоставление конфигурации приложения.
// Он:
//  1. читает YAML-файл конфигурации (config.yaml),
//  2. накладывает секреты из .env (через godotenv), чтобы ключи не жили в YAML,
//  3. нормализует и валидирует входные значения, накапливая предупреждения,
//  4. предоставляет разрешение ключей «канал → глобально → умолчание»,
//  5. отдаёт потокобезопасные снимки через атомарно подменяемый указатель.
//
// Бизнес-контекст: один и тот же ключ поведения (интервал болтовни, промпт,
// флуд-лимиты, настройки команд) может быть задан глобально и переопределён
// для конкретного канала. Читатели всегда работают со снимком (Snapshot),
// поэтому перечитывание конфигурации на лету не рвёт выполняющиеся операции.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Server описывает одну запись в списке серверов ротации.
type Server struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLS        bool   `yaml:"tls"`
	VerifyCert *bool  `yaml:"verify_cert"` // nil трактуется как true
	Password   string `yaml:"password"`
}

// Addr возвращает адрес host:port для набора соединения.
func (s Server) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Verify сообщает, требуется ли проверка сертификата (по умолчанию — да).
func (s Server) Verify() bool {
	return s.VerifyCert == nil || *s.VerifyCert
}

// SASL — параметры SASL-PLAIN аутентификации.
type SASL struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ChannelDef — статическая часть описания канала: имя и ключ входа.
// Остальные ключи канала живут в дереве переопределений (Snapshot.overrides).
type ChannelDef struct {
	Name string
	Key  string
}

// CommandConfig — настройки одной бот-команды: включена ли и какой уровень
// доступа требуется. Requires принимает значения any|voice|op|admin.
type CommandConfig struct {
	Enabled  bool
	Requires string
}

// fileSchema — типизированная часть YAML-файла. Неизвестные ключи игнорируются
// декодером и попадают только в свободное дерево (snapshot.global).
type fileSchema struct {
	Nick                string           `yaml:"nick"`
	AltNick             string           `yaml:"altnick"`
	Ident               string           `yaml:"ident"`
	Realname            string           `yaml:"realname"`
	Servers             []Server         `yaml:"servers"`
	BindHost            string           `yaml:"bindhost"`
	UserMode            string           `yaml:"usermode"`
	SASL                SASL             `yaml:"sasl"`
	PostConnectCommands []string         `yaml:"post_connect_commands"`
	Admins              []string         `yaml:"admins"`
	Channels            []map[string]any `yaml:"channels"`

	PIDFile       string  `yaml:"pid_file"`
	LogLevel      string  `yaml:"log_level"`
	LogRaw        bool    `yaml:"log_raw"`
	LogAPI        bool    `yaml:"log_api"`
	LogFile       string  `yaml:"log_file"`
	LogFileLevel  string  `yaml:"log_file_level"`
	LogFileSizeMB int     `yaml:"log_file_max_size_mb"`
	LogFileMaxBak int     `yaml:"log_file_max_backups"`
	LogFileMaxAge int     `yaml:"log_file_max_age_days"`
	LogFileComprs bool    `yaml:"log_file_compress"`
	BurstSize     int     `yaml:"irc_burst_size"`
	FillRate      float64 `yaml:"irc_fill_rate"`
	MetricsListen string  `yaml:"metrics_listen"`
}

// Значения по умолчанию для параметров, без которых работать можно, но надо
// предупредить оператора.
const (
	defaultLogLevel     = "info"
	defaultBurstSize    = 4
	defaultFillRate     = 1.0
	defaultLogFileLevel = "debug"
	defaultLogFileSize  = 50
	defaultLogFileBak   = 3
	defaultLogFileAge   = 7
)

// Snapshot — неизменяемый снимок конфигурации. Все методы чтения безопасны для
// конкурентного вызова; после публикации снимок не модифицируется.
type Snapshot struct {
	Nick                string
	AltNick             string
	Ident               string
	Realname            string
	Servers             []Server
	BindHost            string
	UserMode            string
	SASL                SASL
	PostConnectCommands []string
	Admins              []string

	PIDFile       string
	LogLevel      string
	LogRaw        bool
	LogAPI        bool
	LogFile       string
	LogFileLevel  string
	LogFileSizeMB int
	LogFileMaxBak int
	LogFileMaxAge int
	LogFileComprs bool
	BurstSize     int
	FillRate      float64
	MetricsListen string

	channels  []ChannelDef
	overrides map[string]map[string]any // lower(channel) -> дерево переопределений
	global    map[string]any            // полное глобальное дерево
	warnings  []string
}

// Store — владелец конфигурации с атомарной подменой снимка. Reload парсит файл
// заново и публикует новый снимок только при полном успехе; читатели, взявшие
// старый снимок, продолжают работать с ним до следующего обращения.
type Store struct {
	mu   sync.RWMutex
	path string
	snap *Snapshot
}

// Load читает файл конфигурации и возвращает готовый Store.
// envPath — путь к .env с секретами; пустая строка или отсутствующий файл
// не являются ошибкой.
func Load(path, envPath string) (*Store, error) {
	snap, err := parseFile(path, envPath)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, snap: snap}, nil
}

// Reload перечитывает файл. При ошибке парсинга текущий снимок сохраняется,
// то есть бот продолжает работать на старой конфигурации.
func (s *Store) Reload() error {
	snap, err := parseFile(s.path, "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Snapshot возвращает текущий снимок конфигурации.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Path возвращает путь к файлу конфигурации (для команд диагностики).
func (s *Store) Path() string { return s.path }

// parseFile выполняет фактическую загрузку и валидацию без установки состояния.
// Удобно для тестов: можно собрать снимок из временного файла и проверить его.
func parseFile(path, envPath string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseBytes(raw, envPath)
}

// parseBytes разбирает YAML дважды: в типизированную схему статических полей и
// в свободное дерево для разрешения ключей поведения. Затем накладывает секреты
// из окружения и выполняет нормализацию.
func parseBytes(raw []byte, envPath string) (*Snapshot, error) {
	var schema fileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse config tree: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}

	if schema.Nick == "" {
		return nil, errors.New("config: nick must be set")
	}
	if len(schema.Servers) == 0 {
		return nil, errors.New("config: at least one server must be configured")
	}
	for i, srv := range schema.Servers {
		if srv.Host == "" || srv.Port <= 0 {
			return nil, fmt.Errorf("config: server #%d must have host and port", i+1)
		}
	}

	var warnings []string
	snap := &Snapshot{
		Nick:                schema.Nick,
		AltNick:             defString(schema.AltNick, schema.Nick+"_"),
		Ident:               defString(schema.Ident, strings.ToLower(schema.Nick)),
		Realname:            defString(schema.Realname, schema.Nick),
		Servers:             schema.Servers,
		BindHost:            schema.BindHost,
		UserMode:            schema.UserMode,
		SASL:                schema.SASL,
		PostConnectCommands: schema.PostConnectCommands,
		Admins:              schema.Admins,
		PIDFile:             schema.PIDFile,
		LogLevel:            sanitizeLogLevel(schema.LogLevel, defaultLogLevel, &warnings),
		LogRaw:              schema.LogRaw,
		LogAPI:              schema.LogAPI,
		LogFile:             schema.LogFile,
		LogFileLevel:        sanitizeLogLevel(schema.LogFileLevel, defaultLogFileLevel, nil),
		LogFileSizeMB:       defInt(schema.LogFileSizeMB, defaultLogFileSize),
		LogFileMaxBak:       defInt(schema.LogFileMaxBak, defaultLogFileBak),
		LogFileMaxAge:       defInt(schema.LogFileMaxAge, defaultLogFileAge),
		LogFileComprs:       schema.LogFileComprs,
		BurstSize:           defInt(schema.BurstSize, defaultBurstSize),
		FillRate:            defFloat(schema.FillRate, defaultFillRate),
		MetricsListen:       schema.MetricsListen,
		global:              tree,
		overrides:           make(map[string]map[string]any, len(schema.Channels)),
	}

	for _, ch := range schema.Channels {
		name, _ := ch["name"].(string)
		if name == "" {
			appendWarningf(&warnings, "channels: entry without name skipped")
			continue
		}
		key, _ := ch["key"].(string)
		lower := strings.ToLower(name)
		snap.channels = append(snap.channels, ChannelDef{Name: name, Key: key})
		snap.overrides[lower] = ch
	}

	applyEnvSecrets(snap, envPath, &warnings)
	snap.warnings = warnings
	return snap, nil
}

// applyEnvSecrets накладывает секреты из окружения поверх YAML. Поддерживаются:
// IRCWIT_AI_KEY, IRCWIT_SASL_PASSWORD, IRCWIT_SERVER_PASSWORD. Файл .env
// необязателен; его отсутствие — не ошибка.
func applyEnvSecrets(snap *Snapshot, envPath string, warnings *[]string) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			appendWarningf(warnings, "load %s: %v", envPath, err)
		}
	}
	if key := strings.TrimSpace(os.Getenv("IRCWIT_AI_KEY")); key != "" {
		snap.global["ai_key"] = key
	}
	if pw := strings.TrimSpace(os.Getenv("IRCWIT_SASL_PASSWORD")); pw != "" {
		snap.SASL.Password = pw
	}
	if pw := strings.TrimSpace(os.Getenv("IRCWIT_SERVER_PASSWORD")); pw != "" {
		for i := range snap.Servers {
			if snap.Servers[i].Password == "" {
				snap.Servers[i].Password = pw
			}
		}
	}
}

// Warnings возвращает накопленные при загрузке предупреждения (копию).
func (sn *Snapshot) Warnings() []string {
	out := make([]string, len(sn.warnings))
	copy(out, sn.warnings)
	return out
}

// Channels возвращает список сконфигурированных каналов.
func (sn *Snapshot) Channels() []ChannelDef {
	out := make([]ChannelDef, len(sn.channels))
	copy(out, sn.channels)
	return out
}

// ChannelKey возвращает ключ входа для канала (пустая строка, если не задан).
func (sn *Snapshot) ChannelKey(channel string) string {
	lower := strings.ToLower(channel)
	for _, ch := range sn.channels {
		if strings.ToLower(ch.Name) == lower {
			return ch.Key
		}
	}
	return ""
}

// IsConfiguredChannel сообщает, описан ли канал в конфигурации.
func (sn *Snapshot) IsConfiguredChannel(channel string) bool {
	lower := strings.ToLower(channel)
	for _, ch := range sn.channels {
		if strings.ToLower(ch.Name) == lower {
			return true
		}
	}
	return false
}

// Get разрешает ключ с учётом канального переопределения: сначала дерево канала,
// затем глобальное дерево, затем def. Ключ может быть составным через точку
// («sasl.username», «floodpro.lines»).
func (sn *Snapshot) Get(channel, key string, def any) any {
	if channel != "" {
		if ov, ok := sn.overrides[strings.ToLower(channel)]; ok {
			if v, found := lookup(ov, key); found {
				return v
			}
		}
	}
	if v, found := lookup(sn.global, key); found {
		return v
	}
	return def
}

// GetString возвращает строковое значение ключа.
func (sn *Snapshot) GetString(channel, key, def string) string {
	if v, ok := sn.Get(channel, key, def).(string); ok {
		return v
	}
	return def
}

// GetInt возвращает целочисленное значение ключа. YAML-числа приходят как int
// или float64 в зависимости от записи; оба варианта принимаются.
func (sn *Snapshot) GetInt(channel, key string, def int) int {
	switch v := sn.Get(channel, key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetFloat возвращает значение ключа как float64.
func (sn *Snapshot) GetFloat(channel, key string, def float64) float64 {
	switch v := sn.Get(channel, key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// GetBool возвращает булево значение ключа.
func (sn *Snapshot) GetBool(channel, key string, def bool) bool {
	if v, ok := sn.Get(channel, key, def).(bool); ok {
		return v
	}
	return def
}

// GetStrings возвращает список строк. Нестроковые элементы пропускаются.
func (sn *Snapshot) GetStrings(channel, key string) []string {
	raw, ok := sn.Get(channel, key, nil).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, isStr := item.(string); isStr {
			out = append(out, s)
		}
	}
	return out
}

// GetFloatPair возвращает пару [min, max]. Скалярное значение трактуется как
// вырожденный диапазон [v, v] — поддержка старого формата записи.
func (sn *Snapshot) GetFloatPair(channel, key string, defMin, defMax float64) (float64, float64) {
	switch v := sn.Get(channel, key, nil).(type) {
	case []any:
		if len(v) == 2 {
			return toFloat(v[0], defMin), toFloat(v[1], defMax)
		}
	case int, int64, float64:
		f := toFloat(v, defMin)
		return f, f
	}
	return defMin, defMax
}

// Command возвращает настройки бот-команды. Канальный блок commands, если он
// определяет команду, полностью затеняет глобальный (слияния нет). Команда,
// не упомянутая нигде, считается включённой с уровнем any.
func (sn *Snapshot) Command(channel, name string) CommandConfig {
	cfg, _ := sn.CommandLookup(channel, name)
	return cfg
}

// CommandLookup — как Command, но с признаком того, что команда описана в
// конфигурации. Роутер по нему решает, применять ли встроенный уровень
// доступа команды вместо умолчания any.
func (sn *Snapshot) CommandLookup(channel, name string) (CommandConfig, bool) {
	name = strings.ToLower(name)
	if channel != "" {
		if ov, ok := sn.overrides[strings.ToLower(channel)]; ok {
			if block := commandBlock(ov, name); block != nil {
				return decodeCommand(block), true
			}
		}
	}
	if block := commandBlock(sn.global, name); block != nil {
		return decodeCommand(block), true
	}
	return CommandConfig{Enabled: true, Requires: "any"}, false
}

// commandBlock достаёт map-блок commands.<name> из дерева tree; nil, если не задан.
func commandBlock(tree map[string]any, name string) map[string]any {
	cmds, ok := tree["commands"].(map[string]any)
	if !ok {
		return nil
	}
	block, ok := cmds[name].(map[string]any)
	if !ok {
		return nil
	}
	return block
}

// decodeCommand разворачивает YAML-блок команды в CommandConfig с нормализацией
// уровня доступа.
func decodeCommand(block map[string]any) CommandConfig {
	cfg := CommandConfig{Enabled: true, Requires: "any"}
	if v, ok := block["enabled"].(bool); ok {
		cfg.Enabled = v
	}
	if v, ok := block["requires"].(string); ok {
		switch strings.ToLower(v) {
		case "any", "voice", "op", "admin":
			cfg.Requires = strings.ToLower(v)
		}
	}
	return cfg
}

// lookup обходит дерево по составному ключу через точку. Возвращает значение и
// признак того, что ключ определён (в отличие от nil-значения).
func lookup(tree map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = tree
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return def
	}
}

func defString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func defInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения
// набором {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	switch lvl {
	case "":
		return defaultVal
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "log level %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// appendWarningf накапливает предупреждения о некорректных значениях.
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// FromBytes собирает Store из уже прочитанного YAML. Используется в тестах.
func FromBytes(raw []byte) (*Store, error) {
	snap, err := parseBytes(raw, "")
	if err != nil {
		return nil, err
	}
	return &Store{snap: snap}, nil
}
