package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LoggerManager раздаёт логгеры компонентов (storage, streaming, migration, http...).
// Компонент пишет в вывод глобального логгера; уровень может быть переопределён
// для отдельного компонента (logging.components в конфигурации).
type LoggerManager struct {
	mu        sync.RWMutex
	loggers   map[string]*Logger
	overrides map[string]LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers:   make(map[string]*Logger),
			overrides: make(map[string]LogLevel),
		}
	})
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) *Logger {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return logger
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, ok := lm.loggers[component]; ok {
		return logger
	}

	base := Default().base
	if level, ok := lm.overrides[component]; ok {
		base = derive(base, level)
	}
	logger = &Logger{
		component: component,
		base:      base,
		entry:     base.WithField("component", component),
	}
	lm.loggers[component] = logger
	return logger
}

// derive создаёт logrus-логгер с тем же выводом и форматом, но своим уровнем
func derive(parent *logrus.Logger, level LogLevel) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(parent.Out)
	l.SetFormatter(parent.Formatter)
	l.ReplaceHooks(parent.Hooks)
	l.SetLevel(level.logrus())
	return l
}

// SetOverrides задаёт уровни отдельных компонентов и сбрасывает кэш
func (lm *LoggerManager) SetOverrides(levels map[string]LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.overrides = make(map[string]LogLevel, len(levels))
	for component, level := range levels {
		lm.overrides[component] = level
	}
	lm.loggers = make(map[string]*Logger)
}

// Reset сбрасывает кэш логгеров после переинициализации глобального логгера.
// Уже выданные логгеры продолжают писать в старый вывод.
func (lm *LoggerManager) Reset() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.loggers = make(map[string]*Logger)
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().GetLogger(component)
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

func GetStreamingLogger() *Logger {
	return GetComponentLogger("streaming")
}

func GetMigrationLogger() *Logger {
	return GetComponentLogger("migration")
}
