package flow

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for store signal")
	}
}

func TestNewFlowAssignsMonotonicIDs(t *testing.T) {
	c := qt.New(t)
	s := NewStore()

	id1 := s.NewFlow("1.2.3.4:1111", nil)
	id2 := s.NewFlow("1.2.3.4:2222", nil)

	c.Assert(id2, qt.Equals, id1+1)

	ids := s.OrderedIDs()
	c.Assert(ids, qt.DeepEquals, []int64{id1, id2})
}

func TestGetReturnsInsertedFlow(t *testing.T) {
	c := qt.New(t)
	s := NewStore()

	id := s.NewFlow("1.2.3.4:1111", &InterceptedRequest{Method: "GET"})
	f, ok := s.Get(id)
	c.Assert(ok, qt.IsTrue)
	c.Assert(f.Request.Method, qt.Equals, "GET")

	_, ok = s.Get(id + 1)
	c.Assert(ok, qt.IsFalse)
}

func TestPostEventAppliesInOrder(t *testing.T) {
	c := qt.New(t)
	s := NewStore()
	sub := s.Subscribe()

	id := s.NewFlow("1.2.3.4:1111", nil)
	waitSignal(t, sub)

	s.PostEvent(id, TCPConnect{Addr: "5.6.7.8:443"})
	waitSignal(t, sub)
	s.PostEvent(id, WSMessageEvent{Message: WSMessage{Direction: WSFromClient, Message: []byte("hi")}})
	waitSignal(t, sub)

	f, ok := s.Get(id)
	c.Assert(ok, qt.IsTrue)
	f.View(func(f *Flow) {
		c.Assert(f.ServerAddr, qt.Equals, "5.6.7.8:443")
		c.Assert(f.Timing.ServerConnTCPHandshake, qt.IsNotNil)
		c.Assert(f.Messages, qt.HasLen, 1)
		c.Assert(string(f.Messages[0].Message), qt.Equals, "hi")
	})
}

func TestPostEventUnknownIDIsIgnored(t *testing.T) {
	s := NewStore()
	// Should not panic or block.
	s.PostEvent(999, TCPConnect{Addr: "x"})
	time.Sleep(10 * time.Millisecond)
}

func TestUnsubscribeStopsSignals(t *testing.T) {
	c := qt.New(t)
	s := NewStore()
	sub := s.Subscribe()
	s.Unsubscribe(sub)

	id := s.NewFlow("1.2.3.4:1111", nil)
	_ = id

	select {
	case <-sub:
		c.Fatal("unsubscribed channel should not receive")
	case <-time.After(30 * time.Millisecond):
	}
}
