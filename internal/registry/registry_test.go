package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ id string }

func (f *fakeSession) PeerID() string { return f.id }

func TestPeerRegistry_RegisterResolveUnregister(t *testing.T) {
	reg := NewPeerRegistry()
	sess := &fakeSession{id: "aaaaaaaa"}

	require.NoError(t, reg.Register("aaaaaaaa", sess))
	require.ErrorIs(t, reg.Register("aaaaaaaa", sess), ErrAlreadyRegistered)

	got, err := reg.Resolve("aaaaaaaa")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	peerID := reg.UnregisterBySession(sess)
	assert.Equal(t, "aaaaaaaa", peerID)

	_, err = reg.Resolve("aaaaaaaa")
	require.ErrorIs(t, err, ErrNotFound)

	// Reconnect after disconnect succeeds (idempotence rule, §8).
	require.NoError(t, reg.Register("aaaaaaaa", sess))
}

func TestRoomManager_CreateOrJoin(t *testing.T) {
	reg := NewPeerRegistry()
	rm := NewRoomManager(reg)

	sessA := &fakeSession{id: "aaaaaaaa"}
	require.NoError(t, reg.Register("aaaaaaaa", sessA))

	room, created, err := rm.CreateOrJoin("", "aaaaaaaa", RoleHost, sessA)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, 1, rm.RoomCount())

	sessB := &fakeSession{id: "bbbbbbbb"}
	require.NoError(t, reg.Register("bbbbbbbb", sessB))

	room2, created2, err := rm.CreateOrJoin(room.ID, "bbbbbbbb", RoleGuest, sessB)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, room.ID, room2.ID)
	assert.Equal(t, 2, room2.Size())
}

func TestRoomManager_OnePeerOneRoom(t *testing.T) {
	reg := NewPeerRegistry()
	rm := NewRoomManager(reg)
	sess := &fakeSession{id: "aaaaaaaa"}
	require.NoError(t, reg.Register("aaaaaaaa", sess))

	_, _, err := rm.CreateOrJoin("room-1", "aaaaaaaa", RoleHost, sess)
	require.NoError(t, err)

	_, _, err = rm.CreateOrJoin("room-2", "aaaaaaaa", RoleHost, sess)
	require.Error(t, err)
}

func TestRoomManager_JoinUnknownRoomFails(t *testing.T) {
	reg := NewPeerRegistry()
	rm := NewRoomManager(reg)
	sess := &fakeSession{id: "aaaaaaaa"}
	require.NoError(t, reg.Register("aaaaaaaa", sess))

	_, err := rm.Join("does-not-exist", "aaaaaaaa", RoleGuest, sess)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomManager_LastMemberDestroysRoom(t *testing.T) {
	reg := NewPeerRegistry()
	rm := NewRoomManager(reg)
	sess := &fakeSession{id: "aaaaaaaa"}
	require.NoError(t, reg.Register("aaaaaaaa", sess))

	room, _, err := rm.CreateOrJoin("", "aaaaaaaa", RoleHost, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, rm.RoomCount())

	_, wasLast := rm.RemovePeer("aaaaaaaa")
	assert.True(t, wasLast)
	assert.Equal(t, 0, rm.RoomCount())

	_, ok := rm.Room(room.ID)
	assert.False(t, ok)
}

func TestRoomManager_RoomSurvivesWhileMembersRemain(t *testing.T) {
	reg := NewPeerRegistry()
	rm := NewRoomManager(reg)
	sessA := &fakeSession{id: "aaaaaaaa"}
	sessB := &fakeSession{id: "bbbbbbbb"}
	require.NoError(t, reg.Register("aaaaaaaa", sessA))
	require.NoError(t, reg.Register("bbbbbbbb", sessB))

	room, _, err := rm.CreateOrJoin("", "aaaaaaaa", RoleHost, sessA)
	require.NoError(t, err)
	_, _, err = rm.CreateOrJoin(room.ID, "bbbbbbbb", RoleGuest, sessB)
	require.NoError(t, err)

	_, wasLast := rm.RemovePeer("aaaaaaaa")
	assert.False(t, wasLast)
	assert.Equal(t, 1, rm.RoomCount())
}
