package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is read once at startup and never changed afterwards.
type Config struct {
	RPCURL          string
	ABIPath         string // empty means the built-in market ABI
	ContractAddress common.Address
	Coinbase        common.Address
	ListenAddr      string
	GasLimit        uint64
	DBPath          string // empty disables the submission log
	StrictStatus    bool
	CallTimeout     time.Duration
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found")
	}

	cfg := Config{
		RPCURL:     getEnv("RPC_URL", "http://localhost:9545"),
		ABIPath:    getEnv("ABI_PATH", ""),
		ListenAddr: getEnv("LISTEN_ADDR", ":3000"),
		DBPath:     getEnv("DB_PATH", "./gateway.db"),
	}

	var err error
	if cfg.ContractAddress, err = parseAddress("CONTRACT_ADDRESS", getEnv("CONTRACT_ADDRESS", "0x345ca3e014aaf5dca488057592ee47305d9b3e10")); err != nil {
		return Config{}, err
	}
	if cfg.Coinbase, err = parseAddress("COINBASE", getEnv("COINBASE", "0x627306090abab3a6e1400e9345bc60c78a8bef57")); err != nil {
		return Config{}, err
	}
	if cfg.GasLimit, err = strconv.ParseUint(getEnv("GAS_LIMIT", "1000000"), 10, 64); err != nil {
		return Config{}, fmt.Errorf("GAS_LIMIT: %w", err)
	}
	if cfg.StrictStatus, err = strconv.ParseBool(getEnv("STRICT_STATUS", "false")); err != nil {
		return Config{}, fmt.Errorf("STRICT_STATUS: %w", err)
	}
	if cfg.CallTimeout, err = time.ParseDuration(getEnv("CALL_TIMEOUT", "0s")); err != nil {
		return Config{}, fmt.Errorf("CALL_TIMEOUT: %w", err)
	}
	return cfg, nil
}

func parseAddress(key, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", key, value)
	}
	return common.HexToAddress(value), nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
