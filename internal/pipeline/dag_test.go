package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoSortCanonicalOrder(t *testing.T) {
	order, err := topoSort(stageDeps)
	require.NoError(t, err)

	position := make(map[Stage]int, len(order))
	for i, s := range order {
		position[s] = i
	}
	for stage, deps := range stageDeps {
		for _, d := range deps {
			assert.Less(t, position[d], position[stage],
				"%s must run before %s", d, stage)
		}
	}
	// Enumeration-order tie-break makes the full order deterministic.
	assert.Equal(t, []Stage{
		StageRawInput, StageValidation, StageDuplicate, StageAmount,
		StageRules, StagePattern, StageEnrichment, StageFinalize,
	}, order)
}

func TestTopoSortCycle(t *testing.T) {
	cyclic := map[Stage][]Stage{
		StageValidation: {StageFinalize},
		StageFinalize:   {StageValidation},
	}
	_, err := topoSort(cyclic)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestTopoSortUnknownDependency(t *testing.T) {
	bad := map[Stage][]Stage{
		StageValidation: {Stage(99)},
	}
	_, err := topoSort(bad)
	require.Error(t, err)
}

func TestTopoSortEmpty(t *testing.T) {
	order, err := topoSort(map[Stage][]Stage{})
	require.NoError(t, err)
	assert.Empty(t, order)
}
