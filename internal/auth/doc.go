// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package auth implements the credential and session lifecycle.
//
// # Domain Types
//
// Identity is a registered account. It starts unverified and becomes
// verified when a VerificationToken mailed to its address is redeemed.
// RefreshToken records the hash of every long-lived bearer token handed
// out, so sessions can be revoked individually or all at once.
// NewIdentity validates and builds identities; repositories receive
// pre-validated values.
//
// # Services
//
//   - VerificationService - issue and redeem one-time email codes, with a
//     resend cooldown and supersession of older codes
//   - SessionService - authenticate, issue token pairs, mint access tokens
//     from refresh tokens, revoke
//   - Service - the registration and login orchestrator used by the HTTP
//     layer, composing both with the captcha and notification gates
//
// Expected outcomes are oops errors carrying one of the Code* constants.
// Kind maps any error to the code the transport should expose; everything
// else is CodeInternal.
//
// # Persistence
//
// Store bundles the repository interfaces and a Transactor. Repository
// calls made with the context handed to Transactor.InTransaction join the
// transaction. See the postgres and memstore subpackages.
package auth
