package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "console to stderr", cfg: Config{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "empty values fall back", cfg: Config{}},
		{name: "unknown level", cfg: Config{Level: "verbose"}, wantErr: true},
		{name: "unknown format", cfg: Config{Format: "xml"}, wantErr: true},
		{name: "unwritable file", cfg: Config{Output: filepath.Join(t.TempDir(), "missing", "cart.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Named("cart").Info("quantity committed", zap.String("item_id", "sku-42"), zap.Int("quantity", 3))
	logger.Debug("filtered out")
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "cart", entry["logger"])
	assert.Equal(t, "quantity committed", entry["msg"])
	assert.Equal(t, "sku-42", entry["item_id"])
	assert.Equal(t, float64(3), entry["quantity"])
	assert.NotContains(t, buf.String(), "filtered out")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.log")
	logger, err := New(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Warn("commit failed")
	logger.Info("ignored")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "commit failed")
	assert.NotContains(t, string(data), "ignored")
}
