package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"EventSync-Agent/internal/config"
	"EventSync-Agent/internal/web3"
	"EventSync-Agent/internal/web3/ethereum"
)

// ErrNoChains is returned when neither a chains file nor an RPC URL is configured.
var ErrNoChains = errors.New("未配置任何链的 RPC 端点")

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients. When
// no default is named, the chain serving network is preferred.
func NewRegistry(ctx context.Context, cfg config.Web3Config, network string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainsFile)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:   name,
			RPCURL: chain.RPCURL,
			Notes:  chain.Description,
		})
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := firstNonEmpty(cfg.Default, defs.Default)
	if defaultChain == "" && network != "" {
		defaultChain, _ = defs.ByNetwork(network)
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		name := firstNonEmpty(network, "default")
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients[name] = client
		defaultChain = name
	}

	if len(clients) == 0 {
		return nil, ErrNoChains
	}

	if defaultChain == "" {
		names := sortedNames(clients)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll(clients)
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// NewStaticRegistry wraps already constructed clients.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) *Registry {
	return &Registry{defaultChain: defaultChain, clients: clients}
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.clients)
}

func sortedNames(clients map[string]web3.Client) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
