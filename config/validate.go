package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.Enabled && cfg.RPC.MaxFrameBytes <= 0 {
		return fmt.Errorf("rpc.maxframe must be positive when rpc is enabled")
	}
	if cfg.RPC.Enabled && cfg.RPC.MaxSessions <= 0 {
		return fmt.Errorf("rpc.maxsessions must be positive when rpc is enabled")
	}
	if cfg.Mining.Enabled {
		switch cfg.Mining.Algo {
		case "randomx", "sha3x":
		default:
			return fmt.Errorf("mining.algo must be randomx or sha3x, got %q", cfg.Mining.Algo)
		}
		if cfg.Mining.Coinbase == "" {
			return fmt.Errorf("mining.coinbase is required when mining is enabled")
		}
	}

	return nil
}
