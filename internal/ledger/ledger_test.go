package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testNFT    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testHelper = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestDeriveAddressEncodings(t *testing.T) {
	want := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")

	cases := map[string]string{
		"uncompressed": "0x0479BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8",
		"raw":          "79BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8",
		"compressed":   "0x0279BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798",
	}
	for name, pub := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := DeriveAddress(pub)
			if err != nil {
				t.Fatalf("derive: %v", err)
			}
			if got != want {
				t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
			}
			again, err := DeriveAddress(pub)
			if err != nil || again != got {
				t.Fatalf("derivation not stable: %s %v", again.Hex(), err)
			}
		})
	}

	for _, bad := range []string{"0x1234", "not-hex"} {
		if _, err := DeriveAddress(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTransferTokenIDSkipsERC20Transfers(t *testing.T) {
	tokenID := big.NewInt(0xbeef)
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: testNFT, Topics: []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))}},
		{Address: testNFT, Topics: []common.Hash{TransferTopic, {}, {}}},
		{Address: testNFT, Topics: []common.Hash{TransferTopic, {}, common.BytesToHash(testHelper.Bytes()), common.BigToHash(tokenID)}},
	}}

	got, err := TransferTokenID(receipt, testNFT)
	if err != nil {
		t.Fatalf("token id: %v", err)
	}
	if got.Cmp(tokenID) != 0 {
		t.Fatalf("expected %s, got %s", tokenID, got)
	}
}

func TestTransferTokenIDIgnoresOtherContracts(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	minted := big.NewInt(7)
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: other, Topics: []common.Hash{TransferTopic, {}, {}, common.BigToHash(big.NewInt(99))}},
		{Address: testNFT, Topics: []common.Hash{TransferTopic, {}, {}, common.BigToHash(minted)}},
	}}

	got, err := TransferTokenID(receipt, testNFT)
	if err != nil {
		t.Fatalf("token id: %v", err)
	}
	if got.Cmp(minted) != 0 {
		t.Fatalf("expected token %s from the nft contract, got %s", minted, got)
	}

	foreignOnly := &types.Receipt{Logs: receipt.Logs[:1]}
	if _, err := TransferTokenID(foreignOnly, testNFT); !errors.Is(err, ErrTransferLogNotFound) {
		t.Fatalf("expected not found for foreign transfers, got %v", err)
	}
}

func TestTransferTokenIDMissing(t *testing.T) {
	if _, err := TransferTokenID(&types.Receipt{}, testNFT); !errors.Is(err, ErrTransferLogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := TransferTokenID(nil, testNFT); !errors.Is(err, ErrTransferLogNotFound) {
		t.Fatalf("expected not found for nil receipt, got %v", err)
	}
}

func TestSignerPersonalSignatureRecovers(t *testing.T) {
	signer := newTestSigner(t)

	msg := []byte("localhost wants you to sign in")
	sig, err := signer.SignPersonal(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape len=%d v=%d", len(sig), sig[len(sig)-1])
	}

	addr, err := RecoverPersonal(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), addr.Hex())
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "0xzz"} {
		if _, err := NewSigner(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}

func TestInMemoryMintConfirmsWithTransferLog(t *testing.T) {
	ctx := context.Background()
	led := NewInMemory(InMemoryConfig{NFT: testNFT, Helper: testHelper, MintCost: big.NewInt(5), GasEstimate: 100_000})
	signer := newTestSigner(t)

	data := append([]byte{}, selMintNext...)
	tx, err := signer.Send(ctx, led, Call{To: testHelper, Data: data, Value: big.NewInt(5), GasLimit: 200_000})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	receipt, err := WaitMined(ctx, led, tx.Hash(), time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	tokenID, err := TransferTokenID(receipt, testNFT)
	if err != nil {
		t.Fatalf("token id: %v", err)
	}

	packed, err := uint256Args.Pack(tokenID)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	out, err := led.CallContract(ctx, callMsg(testNFT, append(append([]byte{}, selGetPubkey...), packed...)), nil)
	if err != nil {
		t.Fatalf("getPubkey: %v", err)
	}
	values, err := bytesArgs.Unpack(out)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	pub := values[0].([]byte)
	if len(pub) != 65 {
		t.Fatalf("expected uncompressed key, got %d bytes", len(pub))
	}
	if tokenID.Cmp(new(big.Int).SetBytes(crypto.Keccak256(pub))) != 0 {
		t.Fatalf("token id is not keccak256 of the public key")
	}
}

func TestInMemoryUnderfundedGasReverts(t *testing.T) {
	ctx := context.Background()
	led := NewInMemory(InMemoryConfig{NFT: testNFT, Helper: testHelper, GasEstimate: 100_000})
	signer := newTestSigner(t)

	tx, err := signer.Send(ctx, led, Call{To: testHelper, Data: append([]byte{}, selMintNext...), Value: big.NewInt(1), GasLimit: 99_999})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	receipt, err := WaitMined(ctx, led, tx.Hash(), time.Millisecond)
	if !errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if receipt.Status != types.ReceiptStatusFailed {
		t.Fatalf("expected failed receipt status, got %d", receipt.Status)
	}
}

func TestWaitMinedHonoursContext(t *testing.T) {
	led := NewInMemory(InMemoryConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := WaitMined(ctx, led, common.HexToHash("0x01"), 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSerializedSendsKeepNoncesOrdered(t *testing.T) {
	ctx := context.Background()
	led := NewInMemory(InMemoryConfig{NFT: testNFT, Helper: testHelper})
	signer := newTestSigner(t)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- signer.Serialize(func() error {
				_, err := signer.Send(ctx, led, Call{To: testNFT, GasLimit: 21_000})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	submitted := led.Submitted()
	if len(submitted) != workers {
		t.Fatalf("expected %d transactions, got %d", workers, len(submitted))
	}
	for i, tx := range submitted {
		if tx.Nonce() != uint64(i) {
			t.Fatalf("transaction %d has nonce %d", i, tx.Nonce())
		}
	}
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
