package emitter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// RecordVersion tags the on-ledger record schema so future layouts can be
// told apart.
const RecordVersion = "ORD:v1"

// Record is the versioned payload written verbatim to the ledger for one
// period. Composition is pure: identical inputs always serialize to identical
// bytes, so on-chain data can be verified independently against the store.
type Record struct {
	Version     string `json:"version"`
	Period      int64  `json:"period"`
	TipShannons string `json:"tipShannons"`
	Digest      string `json:"digest"`
}

// ComposeRecord builds the record for a period. The digest binds ledger id,
// period and tip; the trailing "0" is a fixed nonce reserved for future field
// layout changes.
func ComposeRecord(ledgerID string, periodID int64, tipShannons *big.Int) Record {
	tip := "0"
	if tipShannons != nil {
		tip = tipShannons.String()
	}

	preimage := fmt.Sprintf("%s|%d|%s|0", ledgerID, periodID, tip)
	digest := sha256.Sum256([]byte(preimage))

	return Record{
		Version:     RecordVersion,
		Period:      periodID,
		TipShannons: tip,
		Digest:      hex.EncodeToString(digest[:]),
	}
}

// String serializes the record into the exact bytes submitted on chain.
func (r Record) String() string {
	return fmt.Sprintf("%s;period=%d;tip=%s;digest=%s", r.Version, r.Period, r.TipShannons, r.Digest)
}
