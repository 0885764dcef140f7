// Package web3 defines the blockchain adapter boundary used by the agent:
// token metadata, exact base-unit arithmetic, request/receipt types, the
// adapter error codes and the YAML chain definitions. Concrete adapters live
// in sub-packages (ethereum for EVM JSON-RPC nodes, provider for the
// multi-chain registry).
package web3
