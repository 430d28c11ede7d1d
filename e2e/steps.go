package e2e

import (
	"github.com/cucumber/godog"

	"idledger/e2e/steps/registry"
)

// RegisterSteps registers all step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	registry.RegisterSteps(ctx, tc)
}
