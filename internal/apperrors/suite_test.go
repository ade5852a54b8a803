package apperrors_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAppErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AppErrors Suite")
}
