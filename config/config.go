// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads and validates one node's run configuration: its
// own identity, the static committee it runs alongside, and the tuning
// knobs consensus.Config/mempool.Config/net.TCPConfig expose. A single
// YAML file describes an entire cluster so every node in a local or
// test deployment can be launched from the same document with a
// different --id.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/consensus"
	"github.com/dagrider/node/mempool"
)

// MemberConfig is one committee seat as written in YAML: a slot, a
// hex-encoded Ed25519 public key, the address this node accepts both
// consensus TCP connections and (if ClientAddr is set) client
// transactions on, and this seat's private §4.A shared-coin share.
//
// CoinShare travels through the same shared cluster YAML as every
// other field here, which is an honest simplification rather than a
// real deployment's model: Shamir shares from coin.Deal are secret
// per seat, so a production cluster would distribute them through a
// dealer or DKG handshake out of band, never by handing every node
// the same document that contains everyone's share.
type MemberConfig struct {
	ID         committee.NodeID `yaml:"id"`
	PublicKey  string           `yaml:"publicKey"`
	ListenAddr string           `yaml:"listenAddr"`
	ClientAddr string           `yaml:"clientAddr,omitempty"`
	CoinShare  string           `yaml:"coinShare"`
}

// Config is the document one YAML file decodes into: the whole
// cluster's static membership plus per-run tuning parameters. `run
// --id <i>` selects the member whose id is <i> as self; every other
// entry becomes a net.TCPConfig peer.
type Config struct {
	Members []MemberConfig `yaml:"members"`

	// StoreDir is the LevelDB directory, templated with %d for the
	// node's own ID so one config file can launch every node in a
	// local cluster without colliding on disk.
	StoreDir string `yaml:"storeDir"`

	// PSK is the hex-encoded cluster transport secret net.TCP derives
	// its frame key from.
	PSK string `yaml:"psk"`

	PayloadByteBudget    int           `yaml:"payloadByteBudget"`
	WeakParentByteBudget int           `yaml:"weakParentByteBudget"`
	RoundTimeout         time.Duration `yaml:"roundTimeout"`
	GCSafetyWaves        int           `yaml:"gcSafetyWaves"`

	MempoolMaxBatchBytes int           `yaml:"mempoolMaxBatchBytes"`
	MempoolMaxBatchAge   time.Duration `yaml:"mempoolMaxBatchAge"`

	// MetricsAddr, if set, is the listen address for this node's
	// optional /metrics and /health HTTP endpoints (§9). Empty disables
	// both; neither is ever on the consensus-safety critical path.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`
}

// Load reads and parses a cluster config document from path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := consensus.DefaultConfig()
	if c.PayloadByteBudget == 0 {
		c.PayloadByteBudget = def.PayloadByteBudget
	}
	if c.WeakParentByteBudget == 0 {
		c.WeakParentByteBudget = def.WeakParentByteBudget
	}
	if c.RoundTimeout == 0 {
		c.RoundTimeout = def.RoundTimeout
	}
	if c.GCSafetyWaves == 0 {
		c.GCSafetyWaves = def.GCSafetyWaves
	}
	mdef := mempool.DefaultConfig()
	if c.MempoolMaxBatchBytes == 0 {
		c.MempoolMaxBatchBytes = mdef.MaxBatchBytes
	}
	if c.MempoolMaxBatchAge == 0 {
		c.MempoolMaxBatchAge = mdef.MaxBatchAge
	}
}

// Valid checks the document is internally consistent: dense 1..N
// member IDs, well-formed public keys, and positive tuning parameters.
func (c *Config) Valid() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("no members configured")
	}
	seen := make(map[committee.NodeID]bool, len(c.Members))
	for _, m := range c.Members {
		if m.ID < 1 || int(m.ID) > len(c.Members) {
			return fmt.Errorf("member id %d out of range [1,%d]", m.ID, len(c.Members))
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate member id %d", m.ID)
		}
		seen[m.ID] = true
		if _, err := decodePublicKey(m.PublicKey); err != nil {
			return fmt.Errorf("member %d: %w", m.ID, err)
		}
		if m.ListenAddr == "" {
			return fmt.Errorf("member %d: listenAddr is required", m.ID)
		}
		if _, err := decodeCoinShare(m.CoinShare); err != nil {
			return fmt.Errorf("member %d: coinShare: %w", m.ID, err)
		}
	}
	if c.StoreDir == "" {
		return fmt.Errorf("storeDir is required")
	}
	if _, err := decodeHex(c.PSK); err != nil {
		return fmt.Errorf("psk: %w", err)
	}
	if c.PayloadByteBudget <= 0 || c.WeakParentByteBudget <= 0 {
		return fmt.Errorf("byte budgets must be positive")
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("roundTimeout must be positive")
	}
	return nil
}

// Committee builds the committee.Committee this document describes.
func (c *Config) Committee() (*committee.Committee, error) {
	members := make([]committee.Member, 0, len(c.Members))
	for _, m := range c.Members {
		pub, err := decodePublicKey(m.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", m.ID, err)
		}
		members = append(members, committee.Member{ID: m.ID, PublicKey: pub})
	}
	return committee.New(members), nil
}

// PresharedSecret decodes the cluster transport secret.
func (c *Config) PresharedSecret() ([]byte, error) {
	return decodeHex(c.PSK)
}

// CoinShare decodes member id's private §4.A Shamir share of the
// committee's shared coin.
func (c *Config) CoinShare(id committee.NodeID) (*big.Int, error) {
	m, ok := c.Member(id)
	if !ok {
		return nil, fmt.Errorf("member %d not found", id)
	}
	return decodeCoinShare(m.CoinShare)
}

// Peers builds the net.TCPConfig peer address book for every member
// other than self.
func (c *Config) Peers(self committee.NodeID) map[committee.NodeID]string {
	peers := make(map[committee.NodeID]string, len(c.Members)-1)
	for _, m := range c.Members {
		if m.ID != self {
			peers[m.ID] = m.ListenAddr
		}
	}
	return peers
}

// StoreDirFor renders StoreDir for one node's ID, substituting a %d
// verb if present so one config document can point every node in a
// local cluster at a distinct directory.
func (c *Config) StoreDirFor(id committee.NodeID) string {
	if strings.Contains(c.StoreDir, "%d") {
		return fmt.Sprintf(c.StoreDir, id)
	}
	return c.StoreDir
}

// Member looks up one member's configuration entry by ID.
func (c *Config) Member(id committee.NodeID) (MemberConfig, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return MemberConfig{}, false
}

func decodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func decodeHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex encoding: %w", err)
	}
	return raw, nil
}

func decodeCoinShare(s string) (*big.Int, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("coin share must not be empty")
	}
	return new(big.Int).SetBytes(raw), nil
}
