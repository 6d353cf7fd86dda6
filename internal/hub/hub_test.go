package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(o *Outbox) []string {
	var out []string
	for {
		select {
		case msg := <-o.C():
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h := NewHub()
	a := NewOutbox("a", 4)
	b := NewOutbox("b", 4)

	assert.True(t, h.Join("r1", a))
	assert.False(t, h.Join("r1", b))
	assert.False(t, h.Join("r1", a))
	assert.Equal(t, 2, h.Members("r1"))
	assert.True(t, h.InRoom("r1", a.ID()))

	assert.False(t, h.Leave("r1", "a"))
	assert.False(t, h.Leave("r1", "a"))
	assert.True(t, h.Leave("r1", "b"))
	assert.Zero(t, h.Members("r1"))
	assert.False(t, h.Leave("unknown", "b"))
}

func TestHub_BroadcastSkipsSenderAndOtherRooms(t *testing.T) {
	h := NewHub()
	a := NewOutbox("a", 4)
	b := NewOutbox("b", 4)
	c := NewOutbox("c", 4)
	h.Join("r1", a)
	h.Join("r1", b)
	h.Join("r2", c)

	assert.Equal(t, 2, h.Broadcast("r1", []byte("all"), ""))
	assert.Equal(t, 1, h.Broadcast("r1", []byte("typing"), "a"))

	assert.Equal(t, []string{"all"}, drain(a))
	assert.Equal(t, []string{"all", "typing"}, drain(b))
	assert.Empty(t, drain(c))
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	h := NewHub()
	slow := NewOutbox("slow", 1)
	fast := NewOutbox("fast", 4)
	h.Join("r1", slow)
	h.Join("r1", fast)

	assert.Equal(t, 2, h.Broadcast("r1", []byte("1"), ""))
	assert.Equal(t, 1, h.Broadcast("r1", []byte("2"), ""))

	assert.Equal(t, []string{"1"}, drain(slow))
	assert.Equal(t, []string{"1", "2"}, drain(fast))
	assert.True(t, h.InRoom("r1", "slow"), "slow subscriber stays joined")
}

func TestHub_LeaveAll(t *testing.T) {
	h := NewHub()
	a := NewOutbox("a", 1)
	b := NewOutbox("b", 1)
	h.Join("r1", a)
	h.Join("r2", a)
	h.Join("r2", b)

	assert.Equal(t, []string{"r1", "r2"}, h.RoomsOf("a"))
	assert.Equal(t, []string{"r1"}, h.LeaveAll("a"))
	assert.Empty(t, h.RoomsOf("a"))
	assert.Equal(t, 1, h.Members("r2"))
}

func TestOutbox_Close(t *testing.T) {
	o := NewOutbox("o", 2)
	require.True(t, o.Send([]byte("x")))
	o.Close()
	o.Close()
	assert.False(t, o.Send([]byte("y")))

	msg, ok := <-o.C()
	assert.True(t, ok)
	assert.Equal(t, "x", string(msg))
	_, ok = <-o.C()
	assert.False(t, ok)
}

func TestHub_ConcurrentAccess(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := NewOutbox(fmt.Sprintf("c%d", i), 64)
			h.Join("r1", o)
			h.Broadcast("r1", []byte("hi"), o.ID())
			if i%2 == 0 {
				h.LeaveAll(o.ID())
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, h.Members("r1"))
}
