// Package logger — централизованная обёртка над zap для всего приложения.
// Позволяет инициализировать уровень логирования, форматирование, подключать
// файловый вывод с ротацией (lumberjack) и переназначать целевые потоки
// (stdout/stderr) на лету. Использует zap.AtomicLevel для динамической смены
// уровня и mutex для потокобезопасности.
//
// Помимо обычных уровней есть два трассировочных переключателя:
//   - SetRawTrace / RawIn / RawOut — дамп сырых строк протокола («<<<» / «>>>»);
//   - SetAPITrace / API — дамп запросов к AI-сервису.
//
// Оба пишут на уровне Debug и включаются независимо от него, чтобы можно было
// смотреть протокол, не утопая в остальной отладке.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает доступ к глобальному состоянию логгера от одновременных изменений.
	mu sync.Mutex
	// log хранит текущий экземпляр zap.Logger, используемый во всём приложении.
	log *zap.Logger
	// logLevel управляет динамическим уровнем логирования без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileLevel управляет уровнем файлового вывода независимо от консоли.
	fileLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	// stdoutWriter определяет поток для стандартного вывода логов.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// stderrWriter определяет поток для вывода ошибок логгера.
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileWriter — приёмник файлового вывода (lumberjack); nil, если файл не настроен.
	fileWriter zapcore.WriteSyncer

	// rawTrace включает дамп сырых строк протокола.
	rawTrace atomic.Bool
	// apiTrace включает дамп полезной нагрузки AI-запросов.
	apiTrace atomic.Bool
)

// FileOptions описывает настройки файлового вывода с ротацией.
type FileOptions struct {
	Path       string // путь к файлу лога; пустая строка отключает файловый вывод
	Level      string // уровень файлового вывода (debug по умолчанию)
	MaxSizeMB  int    // максимальный размер файла до ротации
	MaxBackups int    // число хранимых архивов
	MaxAgeDays int    // срок хранения архивов в днях
	Compress   bool   // сжимать ли архивы
}

// consoleEncoderConfig формирует консольный encoder с коротким caller.
// Цветовая подсветка уровней включается только когда stdout — терминал,
// чтобы не засорять перенаправленный вывод escape-кодами.
func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// fileEncoderConfig — encoder файлового вывода: без цвета, с тем же форматом времени.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// rebuildLoggerLocked пересоздаёт глобальный логгер с текущими настройками потоков
// и уровней. Предполагается, что вызывающий уже удерживает mu. AddCallerSkip(1)
// скрывает обёртки logger.* в стеке вызовов. Перед заменой предыдущий логгер
// аккуратно Sync(), чтобы сбросить буферы.
func rebuildLoggerLocked() {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), stdoutWriter, logLevel),
	}
	if fileWriter != nil {
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), fileWriter, fileLevel))
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init инициализирует глобальный zap-логгер и настраивает уровень консоли.
// Допустимые уровни: debug, info (по умолчанию), warn, error. Значение
// сравнивается без учёта регистра. Потокобезопасно.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(parseLevel(level))
	rebuildLoggerLocked()
}

// InitFile подключает файловый вывод с ротацией. Пустой путь отключает файл.
// Потокобезопасно; можно вызывать повторно при перечитывании конфигурации.
func InitFile(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Path == "" {
		fileWriter = nil
		rebuildLoggerLocked()
		return
	}
	fileLevel.SetLevel(parseLevel(opts.Level))
	fileWriter = zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})
	rebuildLoggerLocked()
}

// SetWriters переназначает целевые потоки логгера и пересобирает core.
// Можно вызывать в рантайме (например, чтобы писать поверх строки readline).
// Nil означает Stdout/Stderr по умолчанию. Потокобезопасно.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// parseLevel переводит строковый уровень в zapcore.Level; неизвестные значения — Info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается «сырое» API (не Sugared); предпочтительнее передавать структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// SetRawTrace включает или выключает дамп сырых строк протокола.
func SetRawTrace(on bool) { rawTrace.Store(on) }

// SetAPITrace включает или выключает дамп AI-запросов.
func SetAPITrace(on bool) { apiTrace.Store(on) }

// RawIn пишет входящую строку протокола, если включена трассировка.
func RawIn(line string) {
	if rawTrace.Load() {
		Logger().Debug("<<< " + line)
	}
}

// RawOut пишет исходящую строку протокола, если включена трассировка.
func RawOut(line string) {
	if rawTrace.Load() {
		Logger().Debug(">>> " + line)
	}
}

// API пишет полезную нагрузку AI-запроса, если включена трассировка.
func API(msg string, fields ...zap.Field) {
	if apiTrace.Load() {
		Logger().Debug(msg, fields...)
	}
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение уровня Fatal и завершает работу приложения.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
}

// Debugf форматирует сообщение через fmt.Sprintf. Используйте экономно:
// форматирование аллоцирует; для горячих путей предпочтительны структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf. Для горячих путей лучше использовать Info с полями.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf. Предпочтительнее передавать данные через zap.Field.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf. В критичных участках используйте Error с полями.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
