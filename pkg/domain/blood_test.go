package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bloodbank/pkg/domain-errors"
)

func TestParseBloodGroup(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseBloodGroup("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects unknown group", func(t *testing.T) {
		_, err := ParseBloodGroup("C+")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts every supported group", func(t *testing.T) {
		for _, g := range Groups() {
			parsed, err := ParseBloodGroup(g.String())
			require.NoError(t, err)
			assert.Equal(t, g, parsed)
		}
	})
}

func TestBloodGroupParts(t *testing.T) {
	assert.Equal(t, "AB", GroupABNeg.ABO())
	assert.Equal(t, "O", GroupOPos.ABO())
	assert.True(t, GroupOPos.RhPositive())
	assert.False(t, GroupABNeg.RhPositive())
}

func TestParseComponent(t *testing.T) {
	t.Run("rejects unknown component", func(t *testing.T) {
		_, err := ParseComponent("Serum")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts whole blood", func(t *testing.T) {
		c, err := ParseComponent("Whole Blood")
		require.NoError(t, err)
		assert.Equal(t, ComponentWholeBlood, c)
	})
}
