package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the wallet key and signs transactions and personal messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the wallet address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID with the latest signer rules for that chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// SignMessage produces an EIP-191 personal_sign signature (v in {27,28}).
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign message: %w", err)
	}
	sig[recoveryIdx] += 27
	return sig, nil
}

// RecoverMessageSigner returns the address that produced an EIP-191
// personal_sign signature over msg.
func RecoverMessageSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[recoveryIdx] >= 27 {
		cp[recoveryIdx] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// recoveryIdx is the index of the recovery byte.
const recoveryIdx = 64
