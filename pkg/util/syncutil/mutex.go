// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package syncutil provides thin wrappers around sync primitives so that
// call sites which require a particular lock to be held can say so, and so
// that a deadlock-detecting build tag can later be layered in without
// touching callers.
package syncutil

import "sync"

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// AssertHeld may panic if the mutex is not locked (but it is not required to
// do so). Functions which require that their callers hold a particular lock
// may use this to enforce that requirement more directly than relying on the
// race detector.
func (m *Mutex) AssertHeld() {}

// An RWMutex is a reader/writer mutual exclusion lock.
//
// ReadRegistry relies on this type for the snapshot-and-release pattern: the
// active read-region slice is read under RLock and the pointer is copied out
// before the lock is released, so swapping the slice under Lock never hands
// a reader a half-updated view (I3).
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld may panic if the mutex is not locked for writing.
func (rw *RWMutex) AssertHeld() {}

// AssertRHeld may panic if the mutex is not locked for reading. A mutex
// locked for writing is also considered locked for reading.
func (rw *RWMutex) AssertRHeld() {}
