package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/registry"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, board.Default(), cfg.Board)
	assert.Equal(t, 360, cfg.PreviewHeight)
	assert.Empty(t, cfg.Cameras)
	assert.Nil(t, cfg.Validate())
	assert.Equal(t, ":8090", cfg.Addr())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camcal.yaml")
	yaml := `
log_level: debug
port: 9000
board:
  type: checkerboard
  nx: 9
  ny: 7
  square_size: 25
cameras:
  - name: left
    video_path: /data/left.mp4
    rotation: 90
    flip_vertical: true
    sample_rate: 5
  - name: right
    distortion_mode: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, board.Definition{Kind: board.Checkerboard, Nx: 9, Ny: 7, SquareSize: 25}, cfg.Board)
	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, "left", cfg.Cameras[0].Name)
	assert.Equal(t, "/data/left.mp4", cfg.Cameras[0].VideoPath)
	assert.Equal(t, 90, cfg.Cameras[0].Rotation)
	assert.True(t, cfg.Cameras[0].FlipVertical)
	assert.Equal(t, 5, cfg.Cameras[0].SampleRate)
	assert.True(t, cfg.Cameras[1].DistortionMode)
	assert.Equal(t, 1, cfg.Cameras[1].SampleRate, "omitted sample_rate defaults to every frame")
	assert.Nil(t, cfg.Validate())
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CAMCAL_PORT", "7000")
	t.Setenv("CAMCAL_BOARD_NX", "11")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 11, cfg.Board.Nx)
	assert.Equal(t, 6, cfg.Board.Ny)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errs   int
	}{
		{"default", func(*Config) {}, 0},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, 1},
		{"bad port", func(c *Config) { c.Port = 0 }, 1},
		{"bad board", func(c *Config) { c.Board.Ny = 1 }, 1},
		{"negative preview", func(c *Config) { c.PreviewHeight = -1 }, 1},
		{"bad camera", func(c *Config) {
			c.Cameras = append(c.Cameras, c.Cameras[0])
			c.Cameras[1].SampleRate = -2
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cameras = nil
			cfg.Cameras = append(cfg.Cameras, cameraNamed("a"))
			tt.mutate(cfg)
			if got := cfg.Validate(); len(got) != tt.errs {
				t.Errorf("Validate: got %v, want %d errors", got, tt.errs)
			}
		})
	}
}

func cameraNamed(name string) registry.Settings {
	s := registry.DefaultSettings()
	s.Name = name
	return s
}
