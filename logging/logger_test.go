package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env      string
		enabled  zapcore.Level
		disabled zapcore.Level
	}{
		{EnvLocal, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{EnvDevelopment, zapcore.InfoLevel, zapcore.DebugLevel},
		{EnvProduction, zapcore.WarnLevel, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			l, err := New(tt.env)
			assert.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.enabled))
			assert.False(t, l.Core().Enabled(tt.disabled))
		})
	}
}

func TestNewUnknownEnv(t *testing.T) {
	_, err := New("staging")
	assert.Error(t, err)
}
