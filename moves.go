package main

// Move is one of the three selectable hand signs.
type Move string

const (
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MovePaper:    MoveRock,
	MoveScissors: MovePaper,
}

// ParseMove validates a client-submitted choice. Moves are checked here,
// at the submission boundary; resolve assumes both inputs are valid.
func ParseMove(s string) (Move, bool) {
	switch m := Move(s); m {
	case MoveRock, MovePaper, MoveScissors:
		return m, true
	default:
		return "", false
	}
}

// Outcome is the result of comparing two moves.
type Outcome int

const (
	Tie Outcome = iota
	FirstWins
	SecondWins
)

// resolve compares two valid moves. Identical moves tie; otherwise exactly
// one side dominates via the rock > scissors > paper > rock cycle.
func resolve(a, b Move) Outcome {
	switch {
	case a == b:
		return Tie
	case beats[a] == b:
		return FirstWins
	default:
		return SecondWins
	}
}
