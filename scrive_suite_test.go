package main_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestScrive(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scrive Billing Engine Suite")
}
