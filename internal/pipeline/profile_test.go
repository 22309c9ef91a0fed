package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalProfiles(t *testing.T) {
	cases := []struct {
		name     string
		wall     time.Duration
		fuzzy    time.Duration
		weights  [3]float64
		dupeFail bool
	}{
		{ProfileEnterpriseERP, 180 * time.Second, 24 * time.Hour, [3]float64{0.3, 0.1, 0.6}, false},
		{ProfileSmallBusiness, 90 * time.Second, 12 * time.Hour, [3]float64{0.4, 0.2, 0.4}, false},
		{ProfileCustomerFacing, 60 * time.Second, 4 * time.Hour, [3]float64{0.4, 0.4, 0.2}, false},
		{ProfileFinancialData, 150 * time.Second, 72 * time.Hour, [3]float64{0.3, 0.5, 0.2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ProfileByName(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.wall, p.MaxWallTime)
			assert.Equal(t, tc.fuzzy, p.FuzzyWindow)
			assert.Equal(t, tc.weights[0], p.WeightValidation)
			assert.Equal(t, tc.weights[1], p.WeightAmount)
			assert.Equal(t, tc.weights[2], p.WeightPattern)

			sum := p.WeightValidation + p.WeightAmount + p.WeightPattern
			assert.InDelta(t, 1.0, sum, 0.01)

			if tc.dupeFail {
				assert.Equal(t, ActionFailPipeline, p.Stages[StageDuplicate].OnFailure)
			}
		})
	}
}

func TestEnterpriseERPSkipsAmountStage(t *testing.T) {
	p, err := NewEnterpriseERPProfile()
	require.NoError(t, err)
	assert.Equal(t, Skip, p.Stages[StageAmount].Requirement)

	order, err := p.ExecutionOrder()
	require.NoError(t, err)
	assert.NotContains(t, order, StageAmount)
	assert.Contains(t, order, StageFinalize)
}

func TestConditionalStageIsScheduled(t *testing.T) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Skip}
	stages[StageAmount] = StageConfig{Requirement: Conditional, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageRules] = StageConfig{Requirement: Skip}

	p, err := newProfile("conditional-amount", stages, 0.5, 0.3, 0.2, time.Minute, time.Hour, decimal.Zero)
	require.NoError(t, err)

	order, err := p.ExecutionOrder()
	require.NoError(t, err)
	assert.Contains(t, order, StageAmount)
	assert.NotContains(t, order, StageDuplicate)
}

func TestUnknownProfile(t *testing.T) {
	_, err := ProfileByName("no-such-profile")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBadWeightsRejected(t *testing.T) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Skip}
	stages[StageAmount] = StageConfig{Requirement: Skip}
	stages[StageRules] = StageConfig{Requirement: Skip}

	_, err := newProfile("lopsided", stages, 0.5, 0.5, 0.5, time.Minute, time.Hour, decimal.Zero)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
