// File: reactor/park.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Park-only backend used when the runtime runs without I/O.

package reactor

import (
	"time"

	"github.com/momentics/hioload-rt/api"
)

type parkBackend struct {
	ch chan struct{}
}

func newParkBackend() *parkBackend {
	return &parkBackend{ch: make(chan struct{}, 1)}
}

func (p *parkBackend) kind() Kind { return KindPark }

func (p *parkBackend) add(int, uint64, api.Interest) error { return api.ErrIODisabled }
func (p *parkBackend) del(int, uint64, api.Interest) error { return nil }

func (p *parkBackend) wait(timeout time.Duration, out []event) ([]event, error) {
	switch {
	case timeout < 0:
		<-p.ch
	case timeout == 0:
		select {
		case <-p.ch:
		default:
		}
	default:
		t := time.NewTimer(timeout)
		select {
		case <-p.ch:
		case <-t.C:
		}
		t.Stop()
	}
	return out, nil
}

func (p *parkBackend) wake() error {
	select {
	case p.ch <- struct{}{}:
	default:
	}
	return nil
}

func (p *parkBackend) close() error { return nil }
