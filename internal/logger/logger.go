package logger

import (
	"go.uber.org/zap"
)

// New создает корневой zap-логгер. Компоненты получают именованные
// под-логгеры через log.Named("component"), чтобы в каждой записи
// было видно, откуда она пришла.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
