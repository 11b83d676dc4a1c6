package lkd

import (
	"sync"
	"testing"
	"time"
)

func TestDispatchValueResponse(t *testing.T) {
	c := NewClient("ws://test", Handler{})
	ch := make(chan reply, 1)
	c.pending.Store("r1", ch)

	c.dispatch([]byte(`{"type":"value","id":"r1","object":"Mode","value":2}`))

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("reply error: %v", res.err)
		}
		if res.value != float64(2) {
			t.Errorf("value = %v (%T), want 2", res.value, res.value)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply delivered")
	}

	if _, ok := c.pending.Load("r1"); ok {
		t.Error("pending entry not removed after delivery")
	}
}

func TestDispatchErrorResponse(t *testing.T) {
	c := NewClient("ws://test", Handler{})
	ch := make(chan reply, 1)
	c.pending.Store("r7", ch)

	c.dispatch([]byte(`{"type":"error","id":"r7","message":"no such object"}`))

	res := <-ch
	if res.err == nil {
		t.Fatal("expected an error reply")
	}
	if got := res.err.Error(); got != "lkd: no such object" {
		t.Errorf("error = %q", got)
	}
}

func TestDispatchChangedNotification(t *testing.T) {
	var mu sync.Mutex
	var gotObject string
	var gotValue any

	c := NewClient("ws://test", Handler{
		OnValueChanged: func(objectID string, value any) {
			mu.Lock()
			gotObject, gotValue = objectID, value
			mu.Unlock()
		},
	})

	c.dispatch([]byte(`{"type":"changed","object":"EntranceDoor","value":true}`))

	mu.Lock()
	defer mu.Unlock()
	if gotObject != "EntranceDoor" || gotValue != true {
		t.Errorf("notification = (%q, %v)", gotObject, gotValue)
	}
}

func TestDispatchIgnoresGarbage(t *testing.T) {
	c := NewClient("ws://test", Handler{
		OnValueChanged: func(string, any) { t.Error("handler invoked for garbage") },
	})
	c.dispatch([]byte(`not json`))
	c.dispatch([]byte(`{"type":"value","id":"unknown"}`)) // no pending request
}

func TestRequestFailsWhenDisconnected(t *testing.T) {
	c := NewClient("ws://test", Handler{})
	if _, err := c.GetValue("Mode"); err == nil {
		t.Fatal("GetValue without a connection must fail")
	}
	if err := c.SetValue("Mode", 2); err == nil {
		t.Fatal("SetValue without a connection must fail")
	}
	if c.IsConnected() {
		t.Error("IsConnected = true without a connection")
	}
}

func TestValueCoercion(t *testing.T) {
	boolCases := []struct {
		in   any
		want bool
	}{
		{true, true}, {false, false},
		{float64(1), true}, {float64(0), false},
		{"on", true}, {"off", false}, {"1", true}, {"false", false},
	}
	for _, tc := range boolCases {
		got, err := AsBool(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("AsBool(%v) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := AsBool("maybe"); err == nil {
		t.Error("AsBool(maybe) should fail")
	}

	if got, err := AsFloat(true); err != nil || got != 1 {
		t.Errorf("AsFloat(true) = %v, %v", got, err)
	}
	if got, err := AsInt(float64(42.9)); err != nil || got != 42 {
		t.Errorf("AsInt(42.9) = %v, %v", got, err)
	}
	if _, err := AsFloat("nan"); err == nil {
		t.Error("AsFloat(string) should fail")
	}
}
