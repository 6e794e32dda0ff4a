package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed networks.json abi/*.json
var assets embed.FS

// Role names a contract the relay talks to on every supported network.
type Role string

const (
	// RoleRegistry is the PKP NFT contract: mint cost and public key lookups.
	RoleRegistry Role = "PKPNFT"
	// RoleHelper performs mint-and-authorize as one transaction.
	RoleHelper Role = "PKPHelper"
)

// Roles lists every role with an ABI shipped in the binary.
var Roles = []Role{RoleRegistry, RoleHelper}

// NetworkEntry is one network of the registry dataset.
type NetworkEntry struct {
	ChainID   int64             `json:"chainId"`
	Contracts map[string]string `json:"contracts"`
}

// Dataset maps network names to their deployed contract addresses.
type Dataset struct {
	Networks map[string]NetworkEntry `json:"networks"`
}

// LoadDataset reads the registry dataset from path, or the embedded copy when
// path is empty.
func LoadDataset(path string) (Dataset, error) {
	var (
		raw []byte
		err error
	)
	if strings.TrimSpace(path) == "" {
		raw, err = assets.ReadFile("networks.json")
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read contracts dataset: %w", err)
	}
	return ParseDataset(raw)
}

// ParseDataset decodes a dataset document.
func ParseDataset(raw []byte) (Dataset, error) {
	var ds Dataset
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return Dataset{}, fmt.Errorf("decode contracts dataset: %w", err)
	}
	if len(ds.Networks) == 0 {
		return Dataset{}, fmt.Errorf("contracts dataset lists no networks")
	}
	return ds, nil
}

// Names returns the dataset's networks in sorted order.
func (d Dataset) Names() []string {
	names := make([]string, 0, len(d.Networks))
	for name := range d.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Only returns a copy of the dataset restricted to the named networks.
func (d Dataset) Only(names ...string) (Dataset, error) {
	out := Dataset{Networks: make(map[string]NetworkEntry, len(names))}
	for _, name := range names {
		entry, ok := d.Networks[name]
		if !ok {
			return Dataset{}, fmt.Errorf("contracts dataset has no network %q", name)
		}
		out.Networks[name] = entry
	}
	if len(out.Networks) == 0 {
		return Dataset{}, fmt.Errorf("contracts dataset lists no networks")
	}
	return out, nil
}

// LoadABI parses the embedded ABI for role.
func LoadABI(role Role) (abi.ABI, error) {
	raw, err := assets.ReadFile("abi/" + string(role) + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("no abi for %s: %w", role, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s abi: %w", role, err)
	}
	return parsed, nil
}
