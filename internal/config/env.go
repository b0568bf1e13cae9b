package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseUint(valStr, 10, 64); err == nil {
			return val
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			return val
		}
	}
	return defaultVal
}

// applyEnvOverrides layers environment variables on top of the YAML
// document, same two-phase shape main.go uses for every tunable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	cfg.APIPort = getEnvInt("API_PORT", cfg.APIPort)

	cfg.Global.MaxGasLimit = getEnvUint64("MAX_GAS_LIMIT", cfg.Global.MaxGasLimit)
	cfg.Global.GasHeadroomNum = getEnvUint64("GAS_HEADROOM_NUM", cfg.Global.GasHeadroomNum)
	cfg.Global.GasHeadroomDen = getEnvUint64("GAS_HEADROOM_DEN", cfg.Global.GasHeadroomDen)
	cfg.Global.PriceHeadroomNum = getEnvUint64("PRICE_HEADROOM_NUM", cfg.Global.PriceHeadroomNum)
	cfg.Global.PriceHeadroomDen = getEnvUint64("PRICE_HEADROOM_DEN", cfg.Global.PriceHeadroomDen)
	cfg.Global.MinBundleSize = getEnvInt("MIN_BUNDLE_SIZE", cfg.Global.MinBundleSize)
	cfg.Global.TickIntervalSeconds = getEnvInt("TICK_INTERVAL_SECONDS", cfg.Global.TickIntervalSeconds)
	cfg.Global.InFlightWatermark = getEnvInt("IN_FLIGHT_WATERMARK", cfg.Global.InFlightWatermark)
	if v := os.Getenv("WRAPPED_NATIVE_GAS_BUFFER"); v != "" {
		cfg.Global.WrappedNativeGasBuffer = v
	}

	// Per-chain RPC endpoint override: CHAIN_<n>_RPC is a comma-separated
	// endpoint list for cfg.Chains[n], matching FLOW_ACCESS_NODES' shape.
	for i := range cfg.Chains {
		key := fmt.Sprintf("CHAIN_%d_RPC", i)
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			var endpoints []string
			for _, e := range strings.Split(raw, ",") {
				if e = strings.TrimSpace(e); e != "" {
					endpoints = append(endpoints, e)
				}
			}
			if len(endpoints) > 0 {
				cfg.Chains[i].RPCEndpoints = endpoints
			}
		}
		rateKey := fmt.Sprintf("CHAIN_%d_RPC_RATE_LIMIT", i)
		cfg.Chains[i].RPCRateLimit = getEnvFloat(rateKey, cfg.Chains[i].RPCRateLimit)
	}
}
