// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSigningKeyRoundTrips(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(sk)+"\n"), 0o600))

	loaded, err := loadSigningKey(path)
	require.NoError(t, err)
	require.Equal(t, sk, loaded)
}

func TestLoadSigningKeyRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString([]byte("too-short"))), 0o600))

	_, err := loadSigningKey(path)
	require.Error(t, err)
}

func TestLoadSigningKeyRejectsMissingFile(t *testing.T) {
	_, err := loadSigningKey(filepath.Join(t.TempDir(), "missing.key"))
	require.Error(t, err)
}

func TestRootCommandRegistersBothSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["client"])
}
