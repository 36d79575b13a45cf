package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/common"
	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/store"
)

// NativeCurrency describes a chain's native asset.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Descriptor is the metadata for one network.
type Descriptor struct {
	ID               uint64         `json:"chainId"`
	Name             string         `json:"name"`
	RPCURLs          []string       `json:"rpcUrls"`
	NativeCurrency   NativeCurrency `json:"nativeCurrency"`
	BlockExplorerURL string         `json:"blockExplorerUrl,omitempty"`
	BuiltIn          bool           `json:"builtIn,omitempty"`
}

// builtins are keyed separately from user-added chains and are immutable.
var builtins = []Descriptor{
	{
		ID:               1,
		Name:             "Ethereum Mainnet",
		RPCURLs:          []string{"https://cloudflare-eth.com", "https://eth.llamarpc.com"},
		NativeCurrency:   NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: common.EtherDecimals},
		BlockExplorerURL: "https://etherscan.io",
		BuiltIn:          true,
	},
	{
		ID:               11155111,
		Name:             "Sepolia",
		RPCURLs:          []string{"https://rpc.sepolia.org"},
		NativeCurrency:   NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: common.EtherDecimals},
		BlockExplorerURL: "https://sepolia.etherscan.io",
		BuiltIn:          true,
	},
	{
		ID:               137,
		Name:             "Polygon",
		RPCURLs:          []string{"https://polygon-rpc.com"},
		NativeCurrency:   NativeCurrency{Name: "POL", Symbol: "POL", Decimals: common.EtherDecimals},
		BlockExplorerURL: "https://polygonscan.com",
		BuiltIn:          true,
	},
}

const defaultChainID uint64 = 1

// Registry resolves the current chain and manages user-added descriptors.
type Registry struct {
	store  store.Store
	events *events.Hub
	log    *zap.SugaredLogger

	// mu serializes read-modify-write cycles on the custom-chains table.
	mu sync.Mutex
}

// NewRegistry creates a chain registry.
func NewRegistry(s store.Store, hub *events.Hub, log *zap.SugaredLogger) *Registry {
	return &Registry{store: s, events: hub, log: log}
}

// List returns built-in chains followed by user-added chains, each group in
// chain-id order.
func (r *Registry) List(ctx context.Context) ([]Descriptor, error) {
	custom, err := r.loadCustom(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]Descriptor, 0, len(builtins)+len(custom))
	list = append(list, builtins...)

	added := make([]Descriptor, 0, len(custom))
	for _, d := range custom {
		added = append(added, d)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	return append(list, added...), nil
}

// Get resolves a chain by id.
func (r *Registry) Get(ctx context.Context, id uint64) (Descriptor, error) {
	for _, d := range builtins {
		if d.ID == id {
			return d, nil
		}
	}
	custom, err := r.loadCustom(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	if d, ok := custom[chainKey(id)]; ok {
		return d, nil
	}
	return Descriptor{}, errcode.Newf(errcode.UnsupportedChain, "unknown chain id %d", id)
}

// Current returns the currently selected chain, defaulting to mainnet.
func (r *Registry) Current(ctx context.Context) (Descriptor, error) {
	raw, err := store.GetOne(ctx, r.store, store.KeyCurrentChain)
	if err != nil {
		return Descriptor{}, err
	}
	id := defaultChainID
	if raw != nil {
		parsed, err := strconv.ParseUint(string(raw), 10, 64)
		if err == nil {
			id = parsed
		}
	}

	desc, err := r.Get(ctx, id)
	if err != nil {
		// The selected chain was removed out from under us; fall back
		// to mainnet and persist the correction.
		if errcode.Has(err, errcode.UnsupportedChain) {
			if setErr := r.setCurrent(ctx, defaultChainID); setErr != nil {
				return Descriptor{}, setErr
			}
			return r.Get(ctx, defaultChainID)
		}
		return Descriptor{}, err
	}
	return desc, nil
}

// Switch changes the current chain and emits chainChanged.
func (r *Registry) Switch(ctx context.Context, id uint64) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.setCurrent(ctx, id); err != nil {
		return err
	}
	r.events.ChainChanged(hexutil.EncodeUint64(id))
	r.log.Infow("switched chain", "chainId", id)
	return nil
}

// Add registers a user-added chain. Built-in ids cannot be overridden.
func (r *Registry) Add(ctx context.Context, d Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}
	for _, b := range builtins {
		if b.ID == d.ID {
			return errcode.Newf(errcode.InvalidChainConfig, "chain id %d is built in and cannot be replaced", d.ID)
		}
	}
	d.BuiltIn = false

	r.mu.Lock()
	defer r.mu.Unlock()

	custom, err := r.loadCustom(ctx)
	if err != nil {
		return err
	}
	custom[chainKey(d.ID)] = d
	if err := r.storeCustom(ctx, custom); err != nil {
		return err
	}
	r.log.Infow("added chain", "chainId", d.ID, "name", d.Name)
	return nil
}

// Remove deletes a user-added chain. Removal of built-ins is rejected; if
// the removed chain was current, selection falls back to mainnet.
func (r *Registry) Remove(ctx context.Context, id uint64) error {
	for _, b := range builtins {
		if b.ID == id {
			return errcode.Newf(errcode.InvalidChainConfig, "built-in chain %d cannot be removed", id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Current(ctx)
	if err != nil {
		return err
	}

	custom, err := r.loadCustom(ctx)
	if err != nil {
		return err
	}
	if _, ok := custom[chainKey(id)]; !ok {
		return errcode.Newf(errcode.UnsupportedChain, "unknown chain id %d", id)
	}
	delete(custom, chainKey(id))
	if err := r.storeCustom(ctx, custom); err != nil {
		return err
	}

	if current.ID == id {
		// The removed chain was selected; fall back to mainnet.
		if err := r.setCurrent(ctx, defaultChainID); err != nil {
			return err
		}
		r.events.ChainChanged(hexutil.EncodeUint64(defaultChainID))
	}
	r.log.Infow("removed chain", "chainId", id)
	return nil
}

func (r *Registry) setCurrent(ctx context.Context, id uint64) error {
	return store.SetOne(ctx, r.store, store.KeyCurrentChain, []byte(strconv.FormatUint(id, 10)))
}

func (r *Registry) loadCustom(ctx context.Context) (map[string]Descriptor, error) {
	raw, err := store.GetOne(ctx, r.store, store.KeyCustomChains)
	if err != nil {
		return nil, err
	}
	custom := make(map[string]Descriptor)
	if raw == nil {
		return custom, nil
	}
	if err := json.Unmarshal(raw, &custom); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom chains: %w", err)
	}
	return custom, nil
}

func (r *Registry) storeCustom(ctx context.Context, custom map[string]Descriptor) error {
	raw, err := json.Marshal(custom)
	if err != nil {
		return fmt.Errorf("failed to marshal custom chains: %w", err)
	}
	return store.SetOne(ctx, r.store, store.KeyCustomChains, raw)
}

func chainKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// validate checks a user-supplied descriptor.
func validate(d Descriptor) error {
	if d.ID == 0 {
		return errcode.New(errcode.InvalidChainConfig, "chain id must be non-zero")
	}
	if d.Name == "" {
		return errcode.New(errcode.InvalidChainConfig, "chain name is required")
	}
	if len(d.RPCURLs) == 0 {
		return errcode.New(errcode.InvalidChainConfig, "at least one RPC URL is required")
	}
	for _, u := range d.RPCURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return errcode.Newf(errcode.InvalidChainConfig, "invalid RPC URL %q", u)
		}
	}
	if d.NativeCurrency.Symbol == "" {
		return errcode.New(errcode.InvalidChainConfig, "native currency symbol is required")
	}
	if d.NativeCurrency.Decimals == 0 {
		return errcode.New(errcode.InvalidChainConfig, "native currency decimals must be non-zero")
	}
	return nil
}
