package domain

import "fmt"

// Well-known values for the local development chain.
const (
	DefaultChainID = 31337
	DefaultRPCHost = "127.0.0.1"
	DefaultRPCPort = 8545

	// DefaultDevPrivateKey is the first pre-funded anvil development account.
	DefaultDevPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

// AnvilOptions describes how a local anvil node is started
type AnvilOptions struct {
	Binary    string `json:"binary"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	ChainID   uint64 `json:"chainId"`
	Accounts  int    `json:"accounts"`
	Balance   uint64 `json:"balance"`
	GasLimit  uint64 `json:"gasLimit"`
	GasPrice  uint64 `json:"gasPrice"`
	BlockTime int    `json:"blockTime"`
	ForkURL   string `json:"forkUrl,omitempty"`
	ForkBlock uint64 `json:"forkBlock,omitempty"`
	Silent    bool   `json:"silent"`
}

// DefaultAnvilOptions returns the settings used for every scenario chain.
func DefaultAnvilOptions() AnvilOptions {
	return AnvilOptions{
		Binary:    "anvil",
		Host:      DefaultRPCHost,
		Port:      DefaultRPCPort,
		ChainID:   DefaultChainID,
		Accounts:  10,
		Balance:   10000,
		GasLimit:  30_000_000,
		GasPrice:  1_000_000_000,
		BlockTime: 1,
		Silent:    true,
	}
}

func (o AnvilOptions) RPCURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.Port)
}

func (o AnvilOptions) WSURL() string {
	return fmt.Sprintf("ws://%s:%d", o.Host, o.Port)
}

// Addr is the host:port the node listens on.
func (o AnvilOptions) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
