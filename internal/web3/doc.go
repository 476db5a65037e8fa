// Package web3 holds EVM connectivity for the agent wallet: chain
// definitions loaded from YAML, a go-ethereum backed client, and a registry
// that picks the default network.
package web3
