// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"math/rand/v2"
	"strconv"
)

// MaxUsernameSuggestions caps the alternates returned with USERNAME_TAKEN.
const MaxUsernameSuggestions = 4

var suggestionSuffixes = []string{"_ai", "_dl", "_ml", "_nn"}

// randomSuggestionAttempts bounds the numeric-suffix phase.
const randomSuggestionAttempts = 16

// usernameCandidates returns unique names derived from base. Fixed suffixes
// come first, then random numeric ones drawn from rng. The base is shortened
// so that every candidate fits UsernameMaxLength.
func usernameCandidates(base string, rng *rand.Rand) []string {
	seen := map[string]bool{base: true}
	out := make([]string, 0, len(suggestionSuffixes)+randomSuggestionAttempts)

	add := func(suffix string) {
		name := truncate(base, UsernameMaxLength-len(suffix)) + suffix
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, s := range suggestionSuffixes {
		add(s)
	}
	for range randomSuggestionAttempts {
		add(strconv.Itoa(10 + rng.IntN(9990)))
	}
	return out
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// freeUsernames returns at most MaxUsernameSuggestions candidates that no
// identity holds, in candidate order.
func freeUsernames(ctx context.Context, repo IdentityRepository, candidates []string) ([]string, error) {
	taken, err := repo.TakenUsernames(ctx, candidates)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, MaxUsernameSuggestions)
	for _, c := range candidates {
		if taken[c] {
			continue
		}
		out = append(out, c)
		if len(out) == MaxUsernameSuggestions {
			break
		}
	}
	return out, nil
}
