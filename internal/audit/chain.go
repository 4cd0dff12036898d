// Package audit keeps a tamper-evident record of operation modification
// logs: every entry is hash-chained to its predecessor, and the chain can
// be archived to a relational store and re-verified later.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one chained trail record.
type Entry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Chain accumulates hash-chained entries. Safe for concurrent use.
type Chain struct {
	mu           sync.Mutex
	previousHash string
	pending      []*Entry
}

// NewChain creates a chain starting from the zero hash.
func NewChain() *Chain {
	return &Chain{previousHash: strings.Repeat("0", 64)}
}

// ResumeChain creates a chain continuing from a previously archived head.
func ResumeChain(headHash string) *Chain {
	if headHash == "" {
		return NewChain()
	}
	return &Chain{previousHash: headHash}
}

// Append adds a payload to the chain and returns the new entry.
func (c *Chain) Append(payload string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)

	c.previousHash = entry.Hash
	c.pending = append(c.pending, entry)
	return entry
}

// Drain returns the entries appended since the last drain, for archiving.
func (c *Chain) Drain() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = nil
	return out
}

// Head returns the hash of the latest entry.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// Verify checks that the entries form an unbroken, correctly hashed chain.
func Verify(entries []*Entry) error {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return fmt.Errorf("chain broken at entry %d: previous hash %s does not match %s",
				i, entry.PreviousHash, entries[i-1].Hash)
		}
		if computed := entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload); computed != entry.Hash {
			return fmt.Errorf("hash mismatch at entry %d: expected %s, got %s", i, computed, entry.Hash)
		}
	}
	return nil
}

func entryHash(prevHash, timestamp, payload string) string {
	sum := sha256.Sum256([]byte(prevHash + "|" + timestamp + "|" + payload))
	return hex.EncodeToString(sum[:])
}
