// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/config"
)

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func genPub(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return hex.EncodeToString(pub)
}

func TestLoadValidClusterApplyingDefaults(t *testing.T) {
	psk := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	body := "members:\n" +
		"  - id: 1\n" +
		"    publicKey: \"" + genPub(t) + "\"\n" +
		"    listenAddr: \"127.0.0.1:9001\"\n" +
		"    coinShare: \"01\"\n" +
		"  - id: 2\n" +
		"    publicKey: \"" + genPub(t) + "\"\n" +
		"    listenAddr: \"127.0.0.1:9002\"\n" +
		"    coinShare: \"02\"\n" +
		"storeDir: \"/tmp/dagrider-%d\"\n" +
		"psk: \"" + psk + "\"\n"
	path := writeFixture(t, body)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Members, 2)
	require.Positive(t, cfg.PayloadByteBudget)
	require.Positive(t, cfg.RoundTimeout)
	require.Equal(t, "/tmp/dagrider-1", cfg.StoreDirFor(1))

	c, err := cfg.Committee()
	require.NoError(t, err)
	require.Equal(t, 2, c.N())

	peers := cfg.Peers(1)
	require.Len(t, peers, 1)
	require.Equal(t, "127.0.0.1:9002", peers[committee.NodeID(2)])
}

func TestLoadRejectsGapInMemberIDs(t *testing.T) {
	psk := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	body := "members:\n" +
		"  - id: 1\n" +
		"    publicKey: \"" + genPub(t) + "\"\n" +
		"    listenAddr: \"127.0.0.1:9001\"\n" +
		"    coinShare: \"01\"\n" +
		"  - id: 3\n" +
		"    publicKey: \"" + genPub(t) + "\"\n" +
		"    listenAddr: \"127.0.0.1:9003\"\n" +
		"    coinShare: \"03\"\n" +
		"storeDir: \"/tmp/dagrider\"\n" +
		"psk: \"" + psk + "\"\n"
	path := writeFixture(t, body)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedPublicKey(t *testing.T) {
	psk := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	body := "members:\n" +
		"  - id: 1\n" +
		"    publicKey: \"not-hex\"\n" +
		"    listenAddr: \"127.0.0.1:9001\"\n" +
		"storeDir: \"/tmp/dagrider\"\n" +
		"psk: \"" + psk + "\"\n"
	path := writeFixture(t, body)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/cluster.yaml")
	require.Error(t, err)
}
