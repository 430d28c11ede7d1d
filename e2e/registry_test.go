package e2e

import (
	"context"
	"testing"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	tc := NewTestContext()
	suite := godog.TestSuite{
		Name: "idledger",
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			RegisterSteps(ctx, tc)
			ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
				tc.Stop()
				return ctx, err
			})
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e scenarios failed")
	}
}
