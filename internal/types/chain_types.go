// Package types contains shared type definitions used across multiple packages
package types

// SupportedChain represents a remote chain the optimizer can query
type SupportedChain string

// Supported remote chains
const (
	ChainEthereum  SupportedChain = "ethereum"
	ChainPolygon   SupportedChain = "polygon"
	ChainArbitrum  SupportedChain = "arbitrum"
	ChainOptimism  SupportedChain = "optimism"
	ChainAvalanche SupportedChain = "avalanche"
	ChainBase      SupportedChain = "base"
)

// Destination describes where outbound cross-chain messages are relayed.
type Destination struct {
	Chain         SupportedChain `json:"chain"`
	RelayEndpoint string         `json:"relay_endpoint"`
	APIKey        string         `json:"api_key,omitempty"`
	// Fee is the per-message relay fee in the relay's base unit.
	Fee uint64 `json:"fee"`
}
