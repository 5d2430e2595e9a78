// Package config reads process configuration from environment
// variables with sane defaults, mirroring cmd/api/main.go's prior
// inline os.Getenv reads and internal/auth's cached-secret pattern.
package config

import (
	"os"
	"strconv"

	"github.com/flowkernel/kernel/internal/clock"
)

// Config is the flowkernel process's runtime configuration.
type Config struct {
	PostgresDSN          string
	ListenAddr           string
	ControllerAddress    string
	SelfAddress          string
	HostID               uint64
	Clock                *clock.Clock
	OperatorUser         string
	OperatorPasswordHash string
}

const (
	envPostgresDSN  = "FLOWKERNEL_PG_DSN"
	envListenAddr   = "FLOWKERNEL_LISTEN_ADDR"
	envController   = "FLOWKERNEL_CONTROLLER_ADDRESS"
	envSelf         = "FLOWKERNEL_SELF_ADDRESS"
	envHostID       = "FLOWKERNEL_HOST_ID"
	envEpochLength  = "FLOWKERNEL_EPOCH_LENGTH_SECONDS"
	envGenesisTS    = "FLOWKERNEL_GENESIS_TIMESTAMP"
	envOperatorUser = "FLOWKERNEL_OPERATOR_USER"
	envOperatorHash = "FLOWKERNEL_OPERATOR_PASSWORD_HASH"
	defaultEpochLen = uint64(86400)
)

// FromEnv builds a Config from the environment, falling back to
// defaults suitable for local development. It never returns an error:
// malformed numeric values fall back to their default rather than
// aborting startup, since this mirrors internal/auth's tolerant
// cached-secret loading rather than a hard-fail config parser.
func FromEnv() Config {
	epochLength := envUint64(envEpochLength, defaultEpochLen)
	genesisTS := envUint64(envGenesisTS, 0)
	clk, err := clock.New(epochLength, genesisTS)
	if err != nil {
		clk, _ = clock.New(defaultEpochLen, 0)
	}

	return Config{
		PostgresDSN:          os.Getenv(envPostgresDSN),
		ListenAddr:           envString(envListenAddr, ":8080"),
		ControllerAddress:    os.Getenv(envController),
		SelfAddress:          os.Getenv(envSelf),
		HostID:               envUint64(envHostID, 1),
		Clock:                clk,
		OperatorUser:         envString(envOperatorUser, "controller"),
		OperatorPasswordHash: os.Getenv(envOperatorHash),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
