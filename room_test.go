package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesRoomAndNormalizesCode(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")

	join(gw, alice, "Alice", " abc123 ")

	rm := gw.rooms["ABC123"]
	require.NotNil(t, rm)
	assert.Equal(t, "ABC123", rm.code)
	assert.Equal(t, "ABC123", alice.room)
	assert.Equal(t, []string{"Alice"}, rm.playerNamesLocked())
	assert.Equal(t, map[string]int{"Alice": 0}, rm.scores)

	ev, ok := findEvent(drainEvents(alice), "player_joined")
	require.True(t, ok)
	snapshot := ev.(PlayerJoinedMessage)
	assert.Equal(t, []string{"Alice"}, snapshot.Players)
	assert.Equal(t, map[string]int{"Alice": 0}, snapshot.Scores)
}

// The membership snapshot goes to the whole room, preserving join order so
// every client derives the same player 1 / player 2 layout.
func TestJoinBroadcastsSnapshotToAllMembers(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	drainEvents(alice)
	join(gw, bob, "Bob", "ABC123")

	for _, c := range []*Client{alice, bob} {
		ev, ok := findEvent(drainEvents(c), "player_joined")
		require.True(t, ok)
		assert.Equal(t, []string{"Alice", "Bob"}, ev.(PlayerJoinedMessage).Players)
	}
}

func TestRejoinSameIdentityIsMembershipNoOp(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")

	join(gw, alice, "Alice", "ABC123")
	drainEvents(alice)
	join(gw, alice, "Alice", "ABC123")

	rm := gw.rooms["ABC123"]
	assert.Len(t, rm.members, 1)

	// The snapshot still goes out so the client can resync.
	_, ok := findEvent(drainEvents(alice), "player_joined")
	assert.True(t, ok)
}

// A fresh connection presenting a known player identity takes over the
// existing member slot, keeping the display name the scores are keyed by.
func TestReconnectSwapsConnectionIntoSlot(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")

	again := testClient("id-bob")
	join(gw, again, "Bobby", "ABC123")

	rm := gw.rooms["ABC123"]
	assert.Len(t, rm.members, 2)
	assert.Equal(t, []string{"Alice", "Bob"}, rm.playerNamesLocked())
	assert.Equal(t, "Bob", again.name)
	assert.Equal(t, "ABC123", again.room)
	assert.Empty(t, bob.room, "replaced connection loses its association")
}

func TestThirdJoinRejected(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")
	carol := testClient("id-carol")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")
	join(gw, carol, "Carol", "ABC123")

	rm := gw.rooms["ABC123"]
	assert.Len(t, rm.members, 2)
	assert.Empty(t, carol.room)
	assert.NotContains(t, rm.scores, "Carol")

	ev, ok := findEvent(drainEvents(carol), "game_error")
	require.True(t, ok)
	assert.Contains(t, ev.(GameErrorMessage).Message, "full")
}

func TestStartRejectedWithOnePlayer(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")

	join(gw, alice, "Alice", "ABC123")
	drainEvents(alice)

	start(gw, alice, "ABC123", 3)

	rm := gw.rooms["ABC123"]
	assert.False(t, rm.active)
	assert.Equal(t, map[string]int{"Alice": 0}, rm.scores)

	events := drainEvents(alice)
	_, ok := findEvent(events, "game_error")
	assert.True(t, ok)
	_, started := findEvent(events, "game_started")
	assert.False(t, started)
}

func TestStartRejectedForUnknownRoom(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")

	start(gw, alice, "NOPE99", 3)

	_, ok := findEvent(drainEvents(alice), "game_error")
	assert.True(t, ok)
	assert.Empty(t, gw.rooms)
}

func TestStartRejectedWhileMatchActive(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")
	start(gw, alice, "ABC123", 3)
	drainEvents(bob)

	start(gw, bob, "ABC123", 5)

	_, ok := findEvent(drainEvents(bob), "game_error")
	assert.True(t, ok)
	assert.Equal(t, 3, gw.rooms["ABC123"].maxRounds)
}

func TestStartDefaultsRoundsTarget(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")
	start(gw, alice, "ABC123", 0)

	rm := gw.rooms["ABC123"]
	assert.Equal(t, defaultMaxRounds, rm.maxRounds)
	assert.Equal(t, 2, rm.requiredWins)
}

// A disconnect mid-round behaves exactly like an explicit leave: the match
// is abandoned with no winner, the stranded pending choice is discarded,
// and the room survives for the remaining member. A rejoin by the same
// player identity then supports a fresh match with zeroed scores.
func TestDisconnectMidRoundAbandonsMatch(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")
	start(gw, alice, "ABC123", 3)
	choose(gw, alice, "ABC123", "rock")
	drainEvents(alice)

	gw.handleDisconnect(bob)

	rm := gw.rooms["ABC123"]
	require.NotNil(t, rm, "room survives while a member remains")
	assert.False(t, rm.active)
	assert.Empty(t, rm.pending, "pending choice discarded on abandon")

	ev, ok := findEvent(drainEvents(alice), "player_left")
	require.True(t, ok)
	assert.Equal(t, "Bob", ev.(PlayerLeftMessage).Username)

	rejoined := testClient("id-bob")
	join(gw, rejoined, "Bob", "ABC123")
	start(gw, rejoined, "ABC123", 3)

	assert.True(t, rm.active)
	assert.Equal(t, map[string]int{"Alice": 0, "Bob": 0}, rm.scores)

	_, ok = findEvent(drainEvents(rejoined), "game_started")
	assert.True(t, ok)
}

// Destroying a room on last departure must not leave history behind: the
// same code later yields a brand-new room.
func TestLastLeaveDestroysRoom(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "ABC123")
	join(gw, bob, "Bob", "ABC123")
	start(gw, alice, "ABC123", 1)
	choose(gw, alice, "ABC123", "rock")
	choose(gw, bob, "ABC123", "scissors")

	gw.handleLeave(inbound{client: alice, msg: ClientMessage{Type: "leave_room", RoomCode: "ABC123"}})
	gw.handleLeave(inbound{client: bob, msg: ClientMessage{Type: "leave_room", RoomCode: "ABC123"}})

	assert.Empty(t, gw.rooms)

	carol := testClient("id-carol")
	join(gw, carol, "Carol", "ABC123")

	rm := gw.rooms["ABC123"]
	require.NotNil(t, rm)
	assert.Equal(t, map[string]int{"Carol": 0}, rm.scores, "no revived history")
}

func TestLeaveForMismatchedRoomIgnored(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")

	join(gw, alice, "Alice", "ABC123")

	gw.handleLeave(inbound{client: alice, msg: ClientMessage{Type: "leave_room", RoomCode: "OTHER1"}})

	assert.NotNil(t, gw.rooms["ABC123"])
	assert.Equal(t, "ABC123", alice.room)
}

// Joining a second room implicitly departs the first, since a connection
// holds at most one membership.
func TestJoinSwitchingRoomsDepartsPrevious(t *testing.T) {
	gw := testGateway()
	alice := testClient("id-alice")
	bob := testClient("id-bob")

	join(gw, alice, "Alice", "AAA111")
	join(gw, bob, "Bob", "AAA111")
	drainEvents(bob)

	join(gw, alice, "Alice", "BBB222")

	assert.Equal(t, "BBB222", alice.room)
	assert.Len(t, gw.rooms["AAA111"].members, 1)
	require.NotNil(t, gw.rooms["BBB222"])

	ev, ok := findEvent(drainEvents(bob), "player_left")
	require.True(t, ok)
	assert.Equal(t, "Alice", ev.(PlayerLeftMessage).Username)
}

// A command can already be dequeued for a client when the reaper removes
// its room; the handler that then runs must be able to send a rejection on
// the client's still-open channel, and only the disconnect path may close
// it. Anything else panics the shared run loop.
func TestCommandAfterReapRejectedWithoutPanic(t *testing.T) {
	gw := newGateway(&Config{
		settleDelay:    5 * time.Millisecond,
		sessionTimeout: 20 * time.Millisecond,
	})
	alice := testClient("id-alice")

	gw.mu.Lock()
	gw.clients[alice] = true
	gw.mu.Unlock()

	join(gw, alice, "Alice", "ABC123")

	require.Eventually(t, func() bool {
		gw.mu.RLock()
		defer gw.mu.RUnlock()
		return len(gw.rooms) == 0
	}, time.Second, 10*time.Millisecond)
	drainEvents(alice)

	// The in-flight command the run loop would process next.
	choose(gw, alice, "ABC123", "rock")

	ev, ok := findEvent(drainEvents(alice), "game_error")
	require.True(t, ok, "reaped room must reject, not panic")
	assert.Contains(t, ev.(GameErrorMessage).Message, "does not exist")

	// The disconnect path remains the sole closer of the send channel.
	gw.handleDisconnect(alice)
	_, open := <-alice.send
	assert.False(t, open)
}

func TestReaperRemovesIdleRooms(t *testing.T) {
	gw := newGateway(&Config{
		settleDelay:    5 * time.Millisecond,
		sessionTimeout: 20 * time.Millisecond,
	})
	alice := testClient("id-alice")

	join(gw, alice, "Alice", "ABC123")

	require.Eventually(t, func() bool {
		gw.mu.RLock()
		defer gw.mu.RUnlock()
		return len(gw.rooms) == 0
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, alice.room)
}
