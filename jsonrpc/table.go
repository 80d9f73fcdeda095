package jsonrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mini-rpc/coreband/lookup"
)

// RawTable is a lookup.Table backed by a flat run of 32-byte account
// addresses — the simplest possible stand-in for a parsed on-chain lookup
// table, enough to exercise scoring, cover, and the partition cache
// round-trip without any Solana-specific account-decoding logic.
type RawTable struct {
	address  lookup.PublicKey
	accounts []lookup.PublicKey
}

// NewRawTable builds a RawTable from its address and account list.
func NewRawTable(address lookup.PublicKey, accounts []lookup.PublicKey) *RawTable {
	return &RawTable{address: address, accounts: accounts}
}

func (t *RawTable) Address() lookup.PublicKey { return t.address }

func (t *RawTable) Contains(account lookup.PublicKey) bool {
	for _, a := range t.accounts {
		if a == account {
			return true
		}
	}
	return false
}

func (t *RawTable) NumUniqueAccounts() int { return len(t.accounts) }

func (t *RawTable) DataLen() int { return len(t.accounts) * 32 }

func (t *RawTable) Write(buf []byte) int {
	offset := 0
	for _, a := range t.accounts {
		copy(buf[offset:offset+32], a[:])
		offset += 32
	}
	return offset
}

// DecodeRawTable is the lookup.TableDecoder for RawTable's wire format:
// a flat run of 32-byte accounts, no header.
func DecodeRawTable(address lookup.PublicKey, data []byte) (lookup.Table, error) {
	if len(data)%32 != 0 {
		return nil, fmt.Errorf("jsonrpc: raw table payload length %d not a multiple of 32", len(data))
	}
	accounts := make([]lookup.PublicKey, len(data)/32)
	for i := range accounts {
		copy(accounts[i][:], data[i*32:i*32+32])
	}
	return NewRawTable(address, accounts), nil
}

// wireTable is the JSON shape a "getPartitionTables" RPC response uses:
// base64 fields would be typical in a real deployment; this example uses
// hex strings so RawTable stays trivial to build from fixtures.
type wireTable struct {
	Address  string   `json:"address"`
	Accounts []string `json:"accounts"`
}

func decodeWireTables(raw json.RawMessage) ([]lookup.Table, error) {
	var wire []wireTable
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	tables := make([]lookup.Table, len(wire))
	for i, w := range wire {
		addr, err := decodeHexKey(w.Address)
		if err != nil {
			return nil, fmt.Errorf("jsonrpc: table %d address: %w", i, err)
		}
		accounts := make([]lookup.PublicKey, len(w.Accounts))
		for j, hexAccount := range w.Accounts {
			key, err := decodeHexKey(hexAccount)
			if err != nil {
				return nil, fmt.Errorf("jsonrpc: table %d account %d: %w", i, j, err)
			}
			accounts[j] = key
		}
		tables[i] = NewRawTable(addr, accounts)
	}
	return tables, nil
}

func decodeHexKey(s string) (lookup.PublicKey, error) {
	var key lookup.PublicKey
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("expected 32-byte hex address, got %d bytes", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}
