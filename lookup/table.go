// Package lookup implements the discovery index: a sharded array of
// lookup tables, a parallel scorer, and a greedy set-cover producer that
// answers "which tables together contain all of these accounts".
package lookup

// PublicKey is an opaque 32-byte account address. The core performs no
// cryptography; it only needs equality and use as a map/array key.
type PublicKey [32]byte

// Table is the opaque data object the discovery index scores and covers.
// A concrete implementation (e.g. a parsed Solana address lookup table)
// backs this with real account data; the core only needs these four
// queries.
type Table interface {
	Address() PublicKey
	Contains(account PublicKey) bool
	NumUniqueAccounts() int
	// DataLen is the serialized length used by the partition cache format.
	DataLen() int
	// Write serializes the table's raw data (not including the address or
	// length prefix) into buf, returning the number of bytes written.
	Write(buf []byte) int
}

// ScoredTable pairs a table with how many of the query's accounts it
// contains, ordered by descending score.
type ScoredTable struct {
	Score uint32
	Table Table
}

func scoreOf(t Table, accounts []PublicKey) int {
	score := 0
	for _, a := range accounts {
		if t.Contains(a) {
			score++
		}
	}
	return score
}
