package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, Level("warn", "debug"))
	assert.Equal(t, zapcore.ErrorLevel, Level("error", "release"))
	assert.Equal(t, zapcore.DebugLevel, Level("", "debug"))
	assert.Equal(t, zapcore.InfoLevel, Level("", "release"))
	// 无法识别的级别按模式处理
	assert.Equal(t, zapcore.InfoLevel, Level("verbose", "release"))
}
