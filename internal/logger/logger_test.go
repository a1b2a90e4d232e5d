package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mossy-p/peercam/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_WritesJSONFile(t *testing.T) {
	prev := Lg
	t.Cleanup(func() { Lg = prev })

	file := filepath.Join(t.TempDir(), "test.log")
	err := Init(config.LogConfig{Level: "debug", Filename: file, MaxSize: 1}, "production")
	require.NoError(t, err)

	Info("hello", zap.String("peer", "abc"))
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"peer":"abc"`)
}

func TestInit_InvalidLevel(t *testing.T) {
	prev := Lg
	t.Cleanup(func() { Lg = prev })

	err := Init(config.LogConfig{Level: "loud", Filename: filepath.Join(t.TempDir(), "x.log")}, "production")
	assert.Error(t, err)
}

func TestNamed(t *testing.T) {
	assert.NotNil(t, Named("relay"))
}
