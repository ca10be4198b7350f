package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMove(t *testing.T) {
	for _, valid := range []string{"rock", "paper", "scissors"} {
		move, ok := ParseMove(valid)
		assert.True(t, ok, valid)
		assert.Equal(t, Move(valid), move)
	}

	for _, invalid := range []string{"", "Rock", "ROCK", "lizard", "spock", "rock "} {
		_, ok := ParseMove(invalid)
		assert.False(t, ok, invalid)
	}
}

func TestResolveDominance(t *testing.T) {
	tests := []struct {
		a, b Move
		want Outcome
	}{
		{MoveRock, MoveScissors, FirstWins},
		{MoveScissors, MovePaper, FirstWins},
		{MovePaper, MoveRock, FirstWins},
		{MoveScissors, MoveRock, SecondWins},
		{MovePaper, MoveScissors, SecondWins},
		{MoveRock, MovePaper, SecondWins},
		{MoveRock, MoveRock, Tie},
		{MovePaper, MovePaper, Tie},
		{MoveScissors, MoveScissors, Tie},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, resolve(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

// Swapping the operands must flip wins and preserve ties, for every pair in
// the full 3x3 product.
func TestResolveMirror(t *testing.T) {
	moves := []Move{MoveRock, MovePaper, MoveScissors}

	for _, a := range moves {
		for _, b := range moves {
			forward := resolve(a, b)
			mirror := resolve(b, a)

			switch forward {
			case Tie:
				assert.Equal(t, Tie, mirror, "%s vs %s", a, b)
			case FirstWins:
				assert.Equal(t, SecondWins, mirror, "%s vs %s", a, b)
			case SecondWins:
				assert.Equal(t, FirstWins, mirror, "%s vs %s", a, b)
			}
		}
	}
}
