// Package logger 进程级 zap 日志
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L 全局日志, Init 之前为 Nop
var L = zap.NewNop()

// New 按运行模式创建日志, release 使用 JSON 输出
func New(mode string) (*zap.Logger, error) {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

// Init 创建日志并设为全局
func Init(mode string) error {
	l, err := New(mode)
	if err != nil {
		return err
	}
	L = l
	return nil
}

// Sync 刷新全局日志的缓冲, 退出前调用
func Sync() {
	_ = L.Sync()
}
