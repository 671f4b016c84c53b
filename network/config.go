package network

import (
	"fmt"
	"time"
)

// Chain backends selectable in configuration.
const (
	BackendExplorer = "explorer"
	BackendRPC      = "rpc"
)

// RPCConfig holds the connection parameters for a BSV node's JSON-RPC interface.
type RPCConfig struct {
	URL      string        `json:"url"`
	User     string        `json:"user"`
	Password string        `json:"password"`
	Network  string        `json:"network"`
	Timeout  time.Duration `json:"timeout"`
}

// ExplorerPresets are the default WhatsOnChain base URLs per network.
var ExplorerPresets = map[string]string{
	"main": "https://api.whatsonchain.com/v1/bsv/main",
	"test": "https://api.whatsonchain.com/v1/bsv/test",
}

// RPCPresets contains default RPC configurations for local networks.
// Mainnet is omitted so a node must be configured explicitly.
var RPCPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "b0ase", Password: "b0ase"},
	"test":    {URL: "http://localhost:18332", User: "b0ase", Password: "b0ase"},
}

// ResolveRPCConfig merges RPC settings with decreasing priority:
//  1. explicit settings (flags or config file)
//  2. environment variables (B0ASE_RPC_URL, B0ASE_RPC_USER, B0ASE_RPC_PASS)
//  3. network presets
func ResolveRPCConfig(explicit *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}

	if preset, ok := RPCPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if env != nil {
		if v := env["B0ASE_RPC_URL"]; v != "" {
			result.URL = v
		}
		if v := env["B0ASE_RPC_USER"]; v != "" {
			result.User = v
		}
		if v := env["B0ASE_RPC_PASS"]; v != "" {
			result.Password = v
		}
	}

	if explicit != nil {
		if explicit.URL != "" {
			result.URL = explicit.URL
		}
		if explicit.User != "" {
			result.User = explicit.User
		}
		if explicit.Password != "" {
			result.Password = explicit.Password
		}
		if explicit.Timeout > 0 {
			result.Timeout = explicit.Timeout
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("%w: %s requires an explicit RPC URL (set rpc.url or B0ASE_RPC_URL)", ErrNotConfigured, network)
	}
	return &result, nil
}

// ExplorerBaseURL returns base if set, otherwise the preset for network.
func ExplorerBaseURL(base, network string) (string, error) {
	if base != "" {
		return base, nil
	}
	if preset, ok := ExplorerPresets[network]; ok {
		return preset, nil
	}
	return "", fmt.Errorf("%w: no explorer preset for network %q", ErrNotConfigured, network)
}

// NewBlockchainService builds the chain backend named by backend.
func NewBlockchainService(backend string, explorer ExplorerConfig, rpc RPCConfig) (BlockchainService, error) {
	switch backend {
	case "", BackendExplorer:
		if explorer.BaseURL == "" {
			return nil, fmt.Errorf("%w: explorer base URL", ErrNotConfigured)
		}
		return NewExplorerClient(explorer), nil
	case BackendRPC:
		if rpc.URL == "" {
			return nil, fmt.Errorf("%w: rpc URL", ErrNotConfigured)
		}
		return NewRPCClient(rpc), nil
	default:
		return nil, fmt.Errorf("%w: unknown chain backend %q", ErrNotConfigured, backend)
	}
}
