package middleware

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("log filtering", func() {
	It("masks secrets and client identifiers but keeps ids", func() {
		out := filterBody([]byte(`{"client_id":7,"authorization_id":3,"medicaid_id":"MA123","access_token":"t","events":[{"billing_id":"B1","units":2}]}`))

		Expect(out).To(MatchJSON(`{"client_id":7,"authorization_id":3,"medicaid_id":"[FILTERED]","access_token":"[FILTERED]","events":[{"billing_id":"[FILTERED]","units":2}]}`))
	})

	It("does not log non-JSON bodies", func() {
		Expect(filterBody([]byte("ISA*00*~"))).To(Equal("[FILTERED - non-JSON body]"))
	})
})

var _ = Describe("header filtering", func() {
	It("masks the bearer token", func() {
		out := filterHeaders(map[string][]string{
			"Authorization": {"Bearer abc"},
			"Content-Type":  {"application/json"},
		})
		Expect(out).To(HaveKeyWithValue("Authorization", "[FILTERED]"))
		Expect(out).To(HaveKeyWithValue("Content-Type", "application/json"))
	})
})
