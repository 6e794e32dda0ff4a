package contracts

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/ledger"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestRegistry(t *testing.T) (*Registry, *ledger.InMemory) {
	t.Helper()
	ds, err := LoadDataset("")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	entry := ds.Networks["datil-test"]
	led := ledger.NewInMemory(ledger.InMemoryConfig{
		NFT:      common.HexToAddress(entry.Contracts[string(RoleRegistry)]),
		Helper:   common.HexToAddress(entry.Contracts[string(RoleHelper)]),
		MintCost: big.NewInt(42),
	})
	signer, err := ledger.NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	reg, err := NewRegistry(ds, led, signer)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, led
}

func TestEmbeddedDatasetListsKnownNetworks(t *testing.T) {
	ds, err := LoadDataset("")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if got := ds.Names(); !reflect.DeepEqual(got, []string{"datil", "datil-test"}) {
		t.Fatalf("unexpected networks %v", got)
	}
	for _, name := range ds.Names() {
		for _, role := range Roles {
			if addr := ds.Networks[name].Contracts[string(role)]; !common.IsHexAddress(addr) {
				t.Fatalf("%s %s: bad address %q", name, role, addr)
			}
		}
	}
}

func TestParseDatasetRejectsEmptyAndUnknownFields(t *testing.T) {
	if _, err := ParseDataset([]byte(`{"networks":{}}`)); err == nil {
		t.Fatalf("expected empty dataset to be rejected")
	}
	if _, err := ParseDataset([]byte(`{"networks":{"x":{"chainId":1,"contracts":{}}},"extra":true}`)); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestDatasetOnly(t *testing.T) {
	ds, err := LoadDataset("")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	only, err := ds.Only("datil-test")
	if err != nil {
		t.Fatalf("only: %v", err)
	}
	if got := only.Names(); !reflect.DeepEqual(got, []string{"datil-test"}) {
		t.Fatalf("unexpected networks %v", got)
	}
	if len(ds.Networks) != 2 {
		t.Fatalf("source dataset was modified: %v", ds.Names())
	}

	if _, err := ds.Only("cayenne"); err == nil {
		t.Fatalf("expected unknown network to be rejected")
	}
	if _, err := ds.Only(); err == nil {
		t.Fatalf("expected empty selection to be rejected")
	}
}

func TestResolveMemoizesHandles(t *testing.T) {
	reg, _ := newTestRegistry(t)

	first, err := reg.Resolve("datil-test", RoleHelper)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := reg.Resolve("datil-test", RoleHelper)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second {
		t.Fatalf("expected memoized handle")
	}

	other, err := reg.Resolve("datil", RoleHelper)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Address == other.Address {
		t.Fatalf("expected distinct addresses per network, both %s", first.Address.Hex())
	}
}

func TestResolveConcurrentFirstUseBuildsOneHandle(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const workers = 16
	handles := make([]*Handle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Resolve("datil", RoleRegistry)
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()
	for i, h := range handles {
		if h == nil {
			t.Fatalf("worker %d failed to resolve", i)
		}
		if h != handles[0] {
			t.Fatalf("worker %d got a different handle", i)
		}
	}
}

func TestResolveUnsupportedNetwork(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if _, err := reg.Resolve("mainnet", RoleRegistry); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := reg.Resolve("datil", Role("Staking")); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if reg.Supports("mainnet") || !reg.Supports("datil") {
		t.Fatalf("unexpected support table")
	}
}

func TestResolveMalformedAddress(t *testing.T) {
	ds, err := ParseDataset([]byte(`{"networks":{"broken":{"chainId":1,"contracts":{"PKPNFT":"0x1234"}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	signer, err := ledger.NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	reg, err := NewRegistry(ds, ledger.NewInMemory(ledger.InMemoryConfig{}), signer)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	if _, err := reg.Resolve("broken", RoleRegistry); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHandleCallReadsMintCost(t *testing.T) {
	reg, _ := newTestRegistry(t)
	nft, err := reg.Resolve("datil-test", RoleRegistry)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	out, err := nft.Call(context.Background(), "mintCost")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one output, got %d", len(out))
	}
	if cost, ok := out[0].(*big.Int); !ok || cost.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected mint cost 42, got %v", out[0])
	}
}

func TestHandleCallUnknownMethod(t *testing.T) {
	reg, _ := newTestRegistry(t)
	nft, err := reg.Resolve("datil-test", RoleRegistry)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := nft.Call(context.Background(), "burn"); err == nil {
		t.Fatalf("expected unknown method to fail")
	}
}
