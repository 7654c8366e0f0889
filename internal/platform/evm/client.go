// Package evm implements the ledger collaborator over an EVM-compatible
// JSON-RPC node: address syntax checks, connectivity, wallet balance and
// transfer submission.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const transferGasLimit = 21000

// gweiToWei scales the faucet's smallest accounting unit (nano, 1e-9
// of the native coin) to wei.
var gweiToWei = big.NewInt(1_000_000_000)

type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// Open dials the node and derives the paying account from its private
// key.
func Open(ctx context.Context, rpcURL, privateKeyHex string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	return &Client{
		eth:     eth,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Established reports whether the node is reachable and answering,
// modeled as the ability to fetch the chain head.
func (c *Client) Established(ctx context.Context) bool {
	_, err := c.eth.BlockNumber(ctx)
	return err == nil
}

// SpendableBalance returns the paying account's balance in the native
// unit.
func (c *Client) SpendableBalance(ctx context.Context) (float64, error) {
	wei, err := c.eth.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	balance, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return balance, nil
}

// SubmitTransfer sends nanos smallest accounting units to recipient and
// returns the transaction hash once the node accepts it.
func (c *Client) SubmitTransfer(ctx context.Context, recipient string, nanos int64) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("invalid recipient address %q", recipient)
	}
	to := common.HexToAddress(recipient)

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas price: %w", err)
	}

	value := new(big.Int).Mul(big.NewInt(nanos), gweiToWei)
	tx := types.NewTransaction(nonce, to, value, transferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// ValidateAddressSyntax reports whether addr parses as a ledger
// address.
func (c *Client) ValidateAddressSyntax(addr string) bool {
	return common.IsHexAddress(addr)
}

// NormalizeAddress re-encodes addr into its checksummed canonical form,
// the key under which claim records are stored.
func (c *Client) NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}
