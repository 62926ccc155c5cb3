package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables that select the session backend. They are resolved
// exactly once by Load; nothing else in the codebase reads them.
const (
	EnvSpawnProxy     = "SPAWN_PROXY_PROCESS"
	EnvSpawnProxyAddr = "SPAWN_PROXY_IPC_ADDR"
	EnvPeriodicalResp = "PERIODICAL_RESP_IN_AWAIT"
)

type Config struct {
	// NATS Configuration
	NatsURL       string
	SubjectPrefix string
	GroupID       string

	// Session backend selection
	SpawnProxy     bool
	SpawnProxyAddr string
	NWorkers       int
	LocalWorkers   int

	// Dispatch behavior: when set, the drain loop re-checks the result
	// channel on a short period instead of blocking until the next item.
	PeriodicalResponses bool
	ResultTimeout       time.Duration

	// HTTP Configuration
	HTTPAddr string

	// Database Configuration
	DBPath string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		NatsURL:             getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		SubjectPrefix:       getEnv("SUBJECT_PREFIX", "executor"),
		GroupID:             getEnv("GROUP_ID", ""),
		SpawnProxy:          os.Getenv(EnvSpawnProxy) == "1",
		SpawnProxyAddr:      os.Getenv(EnvSpawnProxyAddr),
		NWorkers:            getEnvInt("N_WORKERS", 1),
		LocalWorkers:        getEnvInt("LOCAL_WORKERS", 0),
		PeriodicalResponses: os.Getenv(EnvPeriodicalResp) == "1",
		ResultTimeout:       getEnvDuration("RESULT_TIMEOUT", "1s"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8081"),
		DBPath:              getEnv("DB_PATH", "data/coordinator.sqlite"),
	}, nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}
