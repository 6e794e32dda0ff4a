package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is the signature hash of Transfer(address,address,uint256).
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TransferTokenID returns the token id of the first ERC-721 Transfer log
// emitted by the nft contract. ERC-20 transfers share the signature but carry
// only three topics and are skipped, as are logs from any other contract.
func TransferTokenID(receipt *types.Receipt, nft common.Address) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrTransferLogNotFound
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != nft || len(lg.Topics) != 4 || lg.Topics[0] != TransferTopic {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[3].Bytes()), nil
	}
	return nil, ErrTransferLogNotFound
}

// DeriveAddress computes the account address of a secp256k1 public key given as
// hex. Uncompressed (65 bytes, 0x04 prefix), raw (64 bytes) and compressed
// (33 bytes) encodings are accepted.
func DeriveAddress(publicKey string) (common.Address, error) {
	raw := strings.TrimSpace(publicKey)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode public key: %w", err)
	}

	switch len(b) {
	case 64:
		b = append([]byte{0x04}, b...)
		fallthrough
	case 65:
		pub, err := crypto.UnmarshalPubkey(b)
		if err != nil {
			return common.Address{}, fmt.Errorf("unmarshal public key: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 33:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return common.Address{}, fmt.Errorf("decompress public key: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return common.Address{}, fmt.Errorf("unexpected public key length %d", len(b))
	}
}
