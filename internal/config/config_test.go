package config_test

import (
	"testing"

	"github.com/coraltel/audiohookbridge/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	valid := []config.LogLevel{
		config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError,
	}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}

	if config.LogLevel("trace").IsValid() {
		t.Error(`LogLevel("trace").IsValid() = true, want false`)
	}
	if config.LogLevel("").IsValid() {
		t.Error(`LogLevel("").IsValid() = true, want false`)
	}
}
