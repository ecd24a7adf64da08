// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Mining (operational, not consensus rules)
	Mining MiningConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds).
	ClearBans  bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds the substream RPC server settings (§4.I).
type RPCConfig struct {
	Enabled       bool     `conf:"rpc.enabled"`
	Addr          string   `conf:"rpc.addr"`
	Port          int      `conf:"rpc.port"`
	AllowedIPs    []string `conf:"rpc.allowed"`
	MaxFrameBytes int      `conf:"rpc.maxframe"`    // Max substream frame size.
	MaxSessions   int      `conf:"rpc.maxsessions"` // Per-peer concurrent session cap.
	RequestTimeoutSecs int `conf:"rpc.timeout"`     // Per-request deadline.
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Enabled  bool   `conf:"mining.enabled"`
	Coinbase string `conf:"mining.coinbase"` // Hex-encoded spend private key for coinbase outputs.
	Threads  int    `conf:"mining.threads"`
	Algo     string `conf:"mining.algo"` // "randomx" or "sha3x"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.mimbleforge
//	macOS:   ~/Library/Application Support/Mimbleforge
//	Windows: %APPDATA%\Mimbleforge
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mimbleforge"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Mimbleforge")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Mimbleforge")
		}
		return filepath.Join(home, "AppData", "Roaming", "Mimbleforge")
	default:
		return filepath.Join(home, ".mimbleforge")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// ChainstoreDir returns the chain store database directory.
func (c *Config) ChainstoreDir() string {
	return filepath.Join(c.ChainDataDir(), "chainstore")
}

// PeerstoreDir returns the peer/ban store database directory.
func (c *Config) PeerstoreDir() string {
	return filepath.Join(c.ChainDataDir(), "peerstore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "mimbleforge.conf")
}
