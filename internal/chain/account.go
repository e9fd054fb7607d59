package chain

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// AccountFromPrivateKey builds a signing account from a hex private key or a
// WIF string.
func AccountFromPrivateKey(key string) (*wallet.Account, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
	if key == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	if len(key) == 64 {
		priv, err := keys.NewPrivateKeyFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		return wallet.NewAccountFromPrivateKey(priv), nil
	}
	account, err := wallet.NewAccountFromWIF(key)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	return account, nil
}
