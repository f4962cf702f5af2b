package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Name: "EchoRequest", Version: "1.0.0", Params: []string{"query"}},
		{Name: "WeatherInquiry", Version: "1.0.0", Params: []string{"query"}},
	}
}

func TestStaticPlannerSingleStep(t *testing.T) {
	plan, err := StaticPlanner{}.Plan(context.Background(), "WeatherInquiry:London", testCatalog())
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "WeatherInquiry", plan.Steps[0].Capability)
	assert.Equal(t, "London", plan.Steps[0].Params["query"])
	assert.True(t, plan.StopOnFailure)
}

func TestStaticPlannerNoArg(t *testing.T) {
	plan, err := StaticPlanner{}.Plan(context.Background(), "EchoRequest", testCatalog())
	require.NoError(t, err)
	assert.Equal(t, "", plan.Steps[0].Params["query"])
}

func TestStaticPlannerUnknownGoalType(t *testing.T) {
	_, err := StaticPlanner{}.Plan(context.Background(), "Teleport:home", testCatalog())
	assert.ErrorIs(t, err, ErrPlanningUnavailable)
}

func TestStaticPlannerEmptyGoal(t *testing.T) {
	_, err := StaticPlanner{}.Plan(context.Background(), "  ", testCatalog())
	assert.ErrorIs(t, err, ErrPlanningUnavailable)

	_, err = StaticPlanner{}.Plan(context.Background(), ":arg", testCatalog())
	assert.ErrorIs(t, err, ErrPlanningUnavailable)
}
