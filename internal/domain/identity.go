package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is an authenticated participant (admin, treasury, bettor, vault).
type Identity = common.Address

// AssetID identifies a fungible token accepted as market collateral.
type AssetID = common.Address

// ZeroIdentity is the unset identity.
var ZeroIdentity Identity

// Seeds for deterministic record identifiers.
const (
	seedFixedMarket = "fixed_market"
	seedPool        = "pool"
	seedBet         = "user_bet"
	seedAssetConfig = "asset_config"
	seedVault       = "vault"
)

// ParseIdentity parses a 0x-prefixed hex address. It returns false when s is
// not a valid 20-byte address.
func ParseIdentity(s string) (Identity, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Identity{}, false
	}
	return common.HexToAddress(s), true
}

// MarketID derives the identifier of a market from its kind and name. Any two
// callers using the same inputs reach the same identifier.
func MarketID(kind MarketKind, name string) string {
	seed := seedFixedMarket
	if kind == MarketKindPool {
		seed = seedPool
	}
	return crypto.Keccak256Hash([]byte(seed), []byte(name)).Hex()
}

// BetID derives the identifier of a bet from its market, owner and request id.
func BetID(marketID string, owner Identity, requestID string) string {
	return crypto.Keccak256Hash(
		[]byte(seedBet),
		common.FromHex(marketID),
		owner.Bytes(),
		[]byte(requestID),
	).Hex()
}

// AssetConfigID derives the identifier of an asset configuration.
func AssetConfigID(symbol string) string {
	return crypto.Keccak256Hash([]byte(seedAssetConfig), []byte(symbol)).Hex()
}

// VaultIdentity is the escrow account holding a market's vault balance.
func VaultIdentity(marketID string) Identity {
	h := crypto.Keccak256([]byte(seedVault), common.FromHex(marketID))
	return common.BytesToAddress(h[12:])
}
