package main

import (
	"time"
)

const (
	maxRoomMembers   = 2
	defaultMaxRounds = 3

	// drawWinner is the sentinel used in round_result when neither side won.
	drawWinner = "Draw"
)

// Room is one isolated match context, identified by a short shareable code.
// All fields are guarded by the owning Gateway's mutex; methods with the
// Locked suffix assume it is held.
type Room struct {
	code    string
	members []*Client // insertion order decides the player 1 / player 2 layout

	scores  map[string]int  // display name -> round wins this match
	pending map[string]Move // choices submitted for the current round

	active       bool
	currentRound int
	maxRounds    int
	requiredWins int

	settling    bool        // between round_result and next_round
	settleTimer *time.Timer // pending next_round transition, if any

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code string) *Room {
	now := time.Now()
	return &Room{
		code:       code,
		scores:     make(map[string]int),
		pending:    make(map[string]Move),
		createdAt:  now,
		lastActive: now,
	}
}

// memberLocked returns the connected client occupying the slot for the given
// player identity, if any.
func (rm *Room) memberLocked(id string) *Client {
	for _, m := range rm.members {
		if m.id == id {
			return m
		}
	}
	return nil
}

func (rm *Room) playerNamesLocked() []string {
	names := make([]string, 0, len(rm.members))
	for _, m := range rm.members {
		names = append(names, m.name)
	}
	return names
}

// scoresCopyLocked snapshots the score map for broadcast, since encoding
// happens later on each client's write pump.
func (rm *Room) scoresCopyLocked() map[string]int {
	scores := make(map[string]int, len(rm.scores))
	for name, wins := range rm.scores {
		scores[name] = wins
	}
	return scores
}

func (rm *Room) snapshotLocked() PlayerJoinedMessage {
	return PlayerJoinedMessage{
		Type:    "player_joined",
		Players: rm.playerNamesLocked(),
		Scores:  rm.scoresCopyLocked(),
	}
}

// startLocked begins a new match. Callers have already checked membership
// and that no match is active.
func (rm *Room) startLocked(maxRounds int) {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	rm.active = true
	rm.maxRounds = maxRounds
	rm.requiredWins = (maxRounds + 1) / 2
	rm.currentRound = 0
	rm.pending = make(map[string]Move)

	rm.scores = make(map[string]int, len(rm.members))
	for _, m := range rm.members {
		rm.scores[m.name] = 0
	}
}

// recordChoiceLocked stores a choice for the current round. A duplicate
// submission for the same display name is absorbed and reported false, so
// network retries cannot alter an already-recorded move.
func (rm *Room) recordChoiceLocked(name string, move Move) bool {
	if _, dup := rm.pending[name]; dup {
		return false
	}
	rm.pending[name] = move
	return true
}

// matchWinnerLocked returns the display name that first reached the required
// win count, or "" if the match should continue. Members are checked in
// join order, though at most one score can cross the threshold per round.
func (rm *Room) matchWinnerLocked() string {
	for _, m := range rm.members {
		if rm.scores[m.name] >= rm.requiredWins {
			return m.name
		}
	}
	return ""
}

// resetMatchLocked returns the room to its lobby state with zeroed scores,
// ready for a rematch. Membership is untouched.
func (rm *Room) resetMatchLocked() {
	rm.cancelSettleLocked()

	rm.active = false
	rm.currentRound = 0
	rm.pending = make(map[string]Move)

	for _, m := range rm.members {
		rm.scores[m.name] = 0
	}
}

// abandonLocked ends an active match with no winner, after a departure
// dropped membership below two.
func (rm *Room) abandonLocked() {
	rm.cancelSettleLocked()

	rm.active = false
	rm.currentRound = 0
	rm.pending = make(map[string]Move)
}

// cancelSettleLocked stops any scheduled next-round transition. The timer
// callback also rechecks room state, so a cancellation lost to a concurrent
// fire is harmless.
func (rm *Room) cancelSettleLocked() {
	if rm.settleTimer != nil {
		rm.settleTimer.Stop()
		rm.settleTimer = nil
	}
	rm.settling = false
}

// dropLocked removes a client from the member list by identity, reporting
// whether it was present.
func (rm *Room) dropLocked(c *Client) bool {
	for i, m := range rm.members {
		if m == c {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			return true
		}
	}
	return false
}

// broadcastLocked fans an event out to every member. A client whose send
// buffer is full misses the event rather than blocking the command loop;
// its connection is torn down through the usual disconnect path.
func (rm *Room) broadcastLocked(msg any) {
	for _, m := range rm.members {
		select {
		case m.send <- msg:
		default:
		}
	}
}
