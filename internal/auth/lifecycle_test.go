// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/token"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

func liveCodes(f *fixture, res *auth.RegisterResult) int {
	n := 0
	for _, vt := range f.mem.Verifications(res.IdentityID) {
		if vt.IsLive(f.clock.Now()) {
			n++
		}
	}
	return n
}

var _ = Describe("Credential lifecycle", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(GinkgoT())
	})

	Describe("registration", func() {
		It("issues exactly one live code and resends on a repeated unverified email", func() {
			first := f.register(GinkgoT(), "alice", "a@x.com")
			Expect(first.Resent).To(BeFalse())
			Expect(liveCodes(f, first)).To(Equal(1))
			oldCode := f.mail.last(GinkgoT()).Code

			f.clock.Advance(testPolicy.ResendCooldown)
			second := f.register(GinkgoT(), "alice", "a@x.com")
			Expect(second.Resent).To(BeTrue())
			Expect(second.ExpiresAt).To(Equal(f.clock.Now().Add(testPolicy.TokenTTL)))
			Expect(liveCodes(f, first)).To(Equal(1))

			_, err := f.svc.VerifyEmail(ctx, oldCode, nil)
			Expect(auth.Kind(err)).To(Equal(auth.CodeTokenInvalidOrExpired))
		})

		It("returns at most four unique suggestions within the length limit", func() {
			f.register(GinkgoT(), "alice", "a@x.com")

			_, err := f.svc.Register(ctx, auth.RegisterInput{
				Username: "alice", Email: "other@x.com", Password: testPassword,
			})
			Expect(auth.Kind(err)).To(Equal(auth.CodeUsernameTaken))

			suggestions := auth.Suggestions(err)
			Expect(len(suggestions)).To(BeNumerically("<=", auth.MaxUsernameSuggestions))
			Expect(suggestions).NotTo(BeEmpty())
			seen := map[string]bool{}
			for _, s := range suggestions {
				Expect(len(s)).To(BeNumerically("<=", auth.UsernameMaxLength))
				Expect(s).To(HavePrefix("alice"))
				Expect(seen).NotTo(HaveKey(s))
				seen[s] = true
			}
		})
	})

	Describe("verification", func() {
		It("sets used_at and is_verified together and rejects a second redemption", func() {
			res := f.register(GinkgoT(), "alice", "a@x.com")
			code := f.mail.last(GinkgoT()).Code

			_, err := f.svc.VerifyEmail(ctx, code, nil)
			Expect(err).NotTo(HaveOccurred())

			identity, err := f.store.Identities.GetByID(ctx, res.IdentityID)
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.IsVerified).To(BeTrue())
			tokens := f.mem.Verifications(res.IdentityID)
			Expect(tokens).To(HaveLen(1))
			Expect(tokens[0].UsedAt).NotTo(BeNil())

			_, err = f.svc.VerifyEmail(ctx, code, nil)
			Expect(auth.Kind(err)).To(Equal(auth.CodeTokenInvalidOrExpired))
		})
	})

	Describe("resend cooldown", func() {
		It("rate limits a second resend ten seconds later with about 110 seconds to wait", func() {
			f.register(GinkgoT(), "alice", "a@x.com")
			f.clock.Advance(5 * time.Minute)

			_, err := f.svc.ResendVerification(ctx, "a@x.com", "captcha", testIP)
			Expect(err).NotTo(HaveOccurred())

			f.clock.Advance(10 * time.Second)
			_, err = f.svc.ResendVerification(ctx, "a@x.com", "captcha", testIP)
			Expect(auth.Kind(err)).To(Equal(auth.CodeRateLimited))
			retry, ok := auth.RetryAfter(err)
			Expect(ok).To(BeTrue())
			Expect(retry).To(BeNumerically("~", 110, 1))
			Expect(retry).To(BeNumerically(">=", 30))
		})

		It("never leaves two live codes under concurrent resends", func() {
			res := f.register(GinkgoT(), "alice", "a@x.com")
			f.clock.Advance(5 * time.Minute)

			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, _ = f.svc.ResendVerification(ctx, "a@x.com", "captcha", testIP)
				}()
			}
			wg.Wait()

			Expect(liveCodes(f, res)).To(Equal(1))
			Expect(f.mail.count()).To(Equal(2), "one registration email and one resend")
		})
	})

	Describe("login", func() {
		It("reports EMAIL_NOT_VERIFIED rather than BAD_CREDENTIALS for an unverified identity", func() {
			f.register(GinkgoT(), "alice", "a@x.com")
			_, err := f.svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: testPassword})
			Expect(errutil.Code(err)).To(Equal(auth.CodeEmailNotVerified))
		})
	})

	Describe("sessions", func() {
		It("revokes every refresh token on a global logout", func() {
			session := f.verified(GinkgoT(), "alice", "a@x.com")
			f.login(GinkgoT(), "a@x.com")

			Expect(f.svc.Logout(ctx, session.Identity.ID, "")).To(Succeed())
			for _, rt := range f.mem.RefreshTokens(session.Identity.ID) {
				Expect(rt.RevokedAt).NotTo(BeNil())
			}

			_, err := f.svc.Refresh(ctx, session.Tokens.RefreshToken)
			Expect(auth.Kind(err)).To(Equal(auth.CodeRefreshInvalid))
		})

		It("round-trips access token claims and expires them after the TTL", func() {
			session := f.verified(GinkgoT(), "alice", "a@x.com")

			claims, err := f.codec.Decode(session.Tokens.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.Subject).To(Equal(session.Identity.ID.String()))
			Expect(claims.Type).To(Equal(token.TypeAccess))
			Expect(claims.Email).To(Equal("a@x.com"))

			f.clock.Advance(15*time.Minute + time.Second)
			_, err = f.codec.Decode(session.Tokens.AccessToken)
			Expect(err).To(MatchError(token.ErrInvalidToken))
		})
	})
})
