package common

import "go.uber.org/zap"

// NewLogger creates a production logger with the specified level.
func NewLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = level
	return config.Build()
}

// NewDevelopmentLogger creates a console logger at the specified level.
func NewDevelopmentLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = level
	return config.Build()
}

// ParseLevel converts a level name ("debug", "info", ...) to an atomic level.
func ParseLevel(name string) (zap.AtomicLevel, error) {
	return zap.ParseAtomicLevel(name)
}
