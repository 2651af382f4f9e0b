// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ingeniia/authsvc/internal/auth"
)

func TestHash(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces argon2id PHC string", func(t *testing.T) {
		hash, err := hasher.Hash("Passw0rd!")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
	})

	t.Run("same secret produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, auth.ErrEmptySecret)
	})
}

func TestVerify(t *testing.T) {
	hasher := auth.NewFastArgon2idHasher()

	t.Run("correct secret verifies", func(t *testing.T) {
		hash, err := hasher.Hash("correct")
		require.NoError(t, err)

		ok, err := hasher.Verify("correct", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect secret fails", func(t *testing.T) {
		hash, err := hasher.Hash("correct")
		require.NoError(t, err)

		ok, err := hasher.Verify("wrong", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hash from production parameters verifies with fast hasher", func(t *testing.T) {
		hash, err := auth.NewArgon2idHasher().Hash("portable")
		require.NoError(t, err)

		ok, err := hasher.Verify("portable", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := []struct {
		name, hash, contains string
	}{
		{"not a hash", "not-a-valid-hash", "invalid hash format"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported hash algorithm"},
		{"bad version", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA", ""},
		{"bad parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA", ""},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA", ""},
		{"bad key", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!", ""},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", "threads value"},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	hasher := auth.NewFastArgon2idHasher()
	legacy, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := hasher.Verify("Passw0rd!", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("nope", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, hasher.NeedsUpgrade(string(legacy)))
}

func TestNeedsUpgrade_Argon2id(t *testing.T) {
	hasher := auth.NewFastArgon2idHasher()
	hash, err := hasher.Hash("password")
	require.NoError(t, err)
	assert.False(t, hasher.NeedsUpgrade(hash))
}
