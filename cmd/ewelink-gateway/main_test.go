// ABOUTME: Tests for CLI argument parsing, bootstrap config generation and log formatting
// ABOUTME: Exercises helpers directly without starting a server

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ewelink-gateway/internal/auth"
	"github.com/2389/ewelink-gateway/internal/config"
)

func TestParseBootstrapArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    bootstrapArgs
		wantErr string
	}{
		{
			name: "space separated",
			args: []string{"--email", "root@ops.test", "--name", "Root"},
			want: bootstrapArgs{email: "root@ops.test", name: "Root"},
		},
		{
			name: "equals and short flags",
			args: []string{"-e=root@ops.test", "-n=  Root  "},
			want: bootstrapArgs{email: "root@ops.test", name: "Root"},
		},
		{name: "missing email", args: []string{"--name", "Root"}, wantErr: "--email flag is required"},
		{name: "invalid email", args: []string{"--email", "not an email"}, wantErr: "invalid email"},
		{name: "missing value", args: []string{"--email"}, wantErr: "requires a value"},
		{name: "unknown flag", args: []string{"--role", "admin"}, wantErr: "unknown flag"},
		{name: "positional", args: []string{"root@ops.test"}, wantErr: "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBootstrapArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteBootstrapConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "conf", "gateway.yaml")
	dbPath := filepath.Join(dir, "data", "gateway.db")

	require.NoError(t, writeBootstrapConfig(configPath, dbPath))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)
}

func TestNewJWTSecret_Unique(t *testing.T) {
	a, err := newJWTSecret()
	require.NoError(t, err)
	b, err := newJWTSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	prevOutput, prevNoColor := color.Output, color.NoColor
	color.Output, color.NoColor = &buf, true
	t.Cleanup(func() { color.Output, color.NoColor = prevOutput, prevNoColor })

	logger := slog.New(&colorHandler{level: slog.LevelInfo, mu: &sync.Mutex{}})
	logger.Debug("hidden")
	logger.With("component", "sessions").WithGroup("sweep").Info("swept", "removed", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF swept")
	assert.Contains(t, out, "component=sessions")
	assert.Contains(t, out, " sweep.removed=2")
}
