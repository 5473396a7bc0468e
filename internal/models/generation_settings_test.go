package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsUnsetGeneticOperators(t *testing.T) {
	s := GenerationSettings{}.WithDefaults()

	assert.Equal(t, 40, s.Genetic.PopulationSize)
	assert.Equal(t, 0.8, s.Genetic.Crossover())
	assert.Equal(t, 0.1, s.Genetic.Mutation())
	assert.Equal(t, 2, s.Genetic.Elite())
	assert.Equal(t, 3, s.Genetic.TournamentSize)
	require.NoError(t, s.Validate(nil))
}

func TestWithDefaultsKeepsExplicitZeroOperators(t *testing.T) {
	s := GenerationSettings{Genetic: GeneticParams{
		CrossoverRate: Float(0),
		MutationRate:  Float(0),
		EliteSize:     Int(0),
	}}.WithDefaults()

	assert.Zero(t, s.Genetic.Crossover())
	assert.Zero(t, s.Genetic.Mutation())
	assert.Zero(t, s.Genetic.Elite())
	require.NoError(t, s.Validate(nil))
}

func TestWithDefaultsFitsSmallPopulations(t *testing.T) {
	s := GenerationSettings{Genetic: GeneticParams{PopulationSize: 2}}.WithDefaults()

	assert.Equal(t, 1, s.Genetic.Elite())
	assert.Equal(t, 2, s.Genetic.TournamentSize)
	require.NoError(t, s.Validate(nil))

	s.Genetic.EliteSize = Int(2)
	assert.Error(t, s.Validate(nil))
}

func TestGeneticParamsAccessorsTolerateNil(t *testing.T) {
	var g GeneticParams
	assert.Zero(t, g.Crossover())
	assert.Zero(t, g.Mutation())
	assert.Zero(t, g.Elite())
}
