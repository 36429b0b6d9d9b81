package ensemble_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEnsembleScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ensemble Scenarios")
}
