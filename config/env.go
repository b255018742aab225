package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override configuration values.
const (
	EnvStatsDB       = "MICROS_STATS_DB"
	EnvMonitorPort   = "MICROS_MONITOR_PORT"
	EnvCheckpointDir = "MICROS_CHECKPOINT_DIR"
)

// ApplyEnv loads envFile into the process environment when it exists and
// overlays the MICROS_* variables onto c. Variables already set in the
// environment win over the file.
func ApplyEnv(c *Config, envFile string) error {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if v, ok := os.LookupEnv(EnvStatsDB); ok {
		c.StatsDB = v
	}

	if v, ok := os.LookupEnv(EnvMonitorPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMonitorPort, err)
		}
		c.MonitorPort = port
	}

	if v, ok := os.LookupEnv(EnvCheckpointDir); ok {
		c.CheckpointDir = v
	}

	return nil
}
