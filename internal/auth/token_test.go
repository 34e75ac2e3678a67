package auth_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
)

var _ = Describe("TokenVerifier", func() {
	const secret = "test-secret-0123456789abcdef0123456789"

	var verifier *auth.TokenVerifier

	BeforeEach(func() {
		var err error
		verifier, err = auth.NewTokenVerifier(internal.SecurityConfig{JWTSecret: secret, JWTIssuer: "scrive-ehr"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("accepts a token from the host platform", func() {
		token, err := auth.SignHS256(secret, "scrive-ehr", 12, "dsp@example.com", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		claims, err := verifier.Verify(token)
		Expect(err).NotTo(HaveOccurred())
		id, err := claims.UserID()
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(12)))
		Expect(claims.Email).To(Equal("dsp@example.com"))
	})

	It("rejects expired tokens", func() {
		token, err := auth.SignHS256(secret, "scrive-ehr", 12, "", -time.Minute)
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Verify(token)
		Expect(errors.Is(err, internal.ErrTokenExpired)).To(BeTrue())
	})

	It("rejects tokens signed with another key", func() {
		token, err := auth.SignHS256("another-secret-0123456789abcdef0123", "scrive-ehr", 12, "", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Verify(token)
		Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
	})

	It("rejects tokens from another issuer", func() {
		token, err := auth.SignHS256(secret, "someone-else", 12, "", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Verify(token)
		Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
	})

	It("requires a verification key", func() {
		_, err := auth.NewTokenVerifier(internal.SecurityConfig{})
		Expect(err).To(HaveOccurred())
	})
})
