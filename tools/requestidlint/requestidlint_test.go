package requestidlint_test

import (
	"testing"

	"github.com/kgraph/controlplane/tools/requestidlint"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), requestidlint.Analyzer, "internal/admin-api/good", "internal/admin-api/bad")
}
