package com

import (
	"sync/atomic"
	"testing"
)

type testClient struct {
	id Uid
	c  int32
}

func (t *testClient) Id() Uid      { return t.id }
func (t *testClient) Disconnect()  {}
func (t *testClient) change(n int) { atomic.AddInt32(&t.c, int32(n)) }

func TestPointerValue(t *testing.T) {
	m := NewNetMap[Uid, *testClient]()
	c := testClient{id: NewUid()}
	m.Add(&c)
	fc, _ := m.FindBy(func(x *testClient) bool { return x.id == c.id })
	c.change(100)
	fc2, _ := m.Find(c.id)

	expected := c.c == fc.c && c.c == fc2.c
	if !expected {
		t.Errorf("not expected change, o: %v != %v != %v", c.c, fc.c, fc2.c)
	}
}

func TestRemoveDisconnect(t *testing.T) {
	m := NewNetMap[Uid, *testClient]()
	c := testClient{id: NewUid()}
	m.Add(&c)
	m.RemoveDisconnect(&c)
	if m.Has(c.id) {
		t.Errorf("client %v should have been removed", c.id)
	}
}
