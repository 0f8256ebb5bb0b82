package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case TRACE:
		return logrus.TraceLevel
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Options задаёт вывод логгера
type Options struct {
	Level LogLevel
	Dir   string // если задан, логи дублируются в файл <dir>/<component>_<timestamp>.log
	JSON  bool

	// Components переопределяет уровень для логгеров компонентов
	Components map[string]LogLevel
}

// Logger представляет логгер компонента поверх logrus
type Logger struct {
	component string
	base      *logrus.Logger
	entry     *logrus.Entry
	file      *os.File
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = newConsoleLogger("server", INFO)
)

func newConsoleLogger(component string, level LogLevel) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(level.logrus())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{
		component: component,
		base:      base,
		entry:     base.WithField("component", component),
	}
}

// NewLogger создаёт консольный логгер компонента с уровнем INFO
func NewLogger(component string) (*Logger, error) {
	return NewLoggerWithOptions(component, Options{Level: INFO})
}

// NewLoggerWithOptions создаёт логгер компонента с выводом в консоль и, опционально, в файл
func NewLoggerWithOptions(component string, opts Options) (*Logger, error) {
	l := newConsoleLogger(component, opts.Level)
	if opts.JSON {
		l.base.SetFormatter(&logrus.JSONFormatter{})
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		l.file = file
		l.base.SetOutput(io.MultiWriter(os.Stdout, file))
	}

	return l, nil
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// SetLevel меняет минимальный уровень логгера
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

// SetOutput перенаправляет вывод (используется в тестах)
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// WithField возвращает дочерний логгер с дополнительным полем
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		component: l.component,
		base:      l.base,
		entry:     l.entry.WithField(key, value),
	}
}

// WithError возвращает дочерний логгер с полем error
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		component: l.component,
		base:      l.base,
		entry:     l.entry.WithError(err),
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Close закрывает файл логов, если он открыт
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.base.SetOutput(os.Stdout)
	return err
}

// InitDefaultLogger инициализирует глобальный логгер сервера
func InitDefaultLogger(component string) error {
	return InitDefaultLoggerWithOptions(component, Options{Level: INFO})
}

// InitDefaultLoggerWithOptions инициализирует глобальный логгер с заданными опциями
func InitDefaultLoggerWithOptions(component string, opts Options) error {
	l, err := NewLoggerWithOptions(component, opts)
	if err != nil {
		return err
	}

	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	GetLoggerManager().SetOverrides(opts.Components)
	return nil
}

// CloseDefaultLogger закрывает файл глобального логгера
func CloseDefaultLogger() {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		_ = l.Close()
	}
}

// Default возвращает глобальный логгер
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Trace(format string, args ...interface{}) { Default().Trace(format, args...) }
func Debug(format string, args ...interface{}) { Default().Debug(format, args...) }
func Info(format string, args ...interface{})  { Default().Info(format, args...) }
func Warn(format string, args ...interface{})  { Default().Warn(format, args...) }
func Error(format string, args ...interface{}) { Default().Error(format, args...) }

// HexDump создает hex дамп данных (не более 256 байт)
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}
