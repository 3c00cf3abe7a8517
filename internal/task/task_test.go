package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskIdentity(t *testing.T) {
	t.Run("equal only when all fields match", func(t *testing.T) {
		a := Task{OriginHost: "alpha", OriginPort: 9000, Round: 1, Payload: 42}
		b := Task{OriginHost: "alpha", OriginPort: 9000, Round: 1, Payload: 42}
		assert.Equal(t, a, b)

		for _, variant := range []Task{
			{OriginHost: "beta", OriginPort: 9000, Round: 1, Payload: 42},
			{OriginHost: "alpha", OriginPort: 9001, Round: 1, Payload: 42},
			{OriginHost: "alpha", OriginPort: 9000, Round: 2, Payload: 42},
			{OriginHost: "alpha", OriginPort: 9000, Round: 1, Payload: 43},
		} {
			assert.NotEqual(t, a, variant)
		}
	})

	t.Run("origin address", func(t *testing.T) {
		task := Task{OriginHost: "alpha", OriginPort: 9000}
		assert.Equal(t, "alpha:9000", task.Origin())
	})
}

func TestMiner(t *testing.T) {
	t.Run("deterministic for the same task", func(t *testing.T) {
		miner := Miner{Difficulty: 8}
		task := Task{OriginHost: "alpha", OriginPort: 9000, Round: 3, Payload: 7}

		first := miner.Mine(task)
		second := miner.Mine(task)
		assert.Equal(t, first, second)
	})

	t.Run("digest meets the difficulty target", func(t *testing.T) {
		miner := Miner{Difficulty: 10}
		result := miner.Mine(Task{OriginHost: "beta", OriginPort: 1, Round: 1, Payload: 1})
		require.GreaterOrEqual(t, leadingZeroBits(result.Digest), 10)
	})

	t.Run("zero difficulty falls back to the default", func(t *testing.T) {
		result := Miner{}.Mine(Task{OriginHost: "gamma", OriginPort: 2, Round: 1, Payload: 5})
		assert.GreaterOrEqual(t, leadingZeroBits(result.Digest), DefaultDifficulty)
	})
}
