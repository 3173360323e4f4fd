// File: transport/tcp/copy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"errors"
	"io"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/pool"
	"github.com/momentics/hioload-rt/rt"
)

const (
	copyBufferSize = 32 * 1024
	// copyBudget bounds the read/write rounds done in one poll.
	copyBudget = 16
)

// Copy forwards bytes from src to dst until src reaches EOF and resolves
// to the number of bytes written. Copy(s, s) echoes a stream. The buffer
// comes from pool.Default and goes back once the copy ends or is dropped.
func Copy(dst, src *Stream) rt.Future[api.Result[int64]] {
	return &copyFuture{dst: dst, src: src}
}

type copyFuture struct {
	dst, src *Stream
	buf      *[]byte
	n        int64
	rd, wr   rt.Future[api.Result[int]]
}

func (f *copyFuture) Poll(cx *rt.Context) (api.Result[int64], bool) {
	res, ok := f.poll(cx)
	if ok {
		f.release()
	}
	return res, ok
}

func (f *copyFuture) poll(cx *rt.Context) (api.Result[int64], bool) {
	if f.buf == nil {
		f.buf = pool.Default.Get(copyBufferSize)
	}
	buf := *f.buf
	for range copyBudget {
		if f.wr != nil {
			res, ok := f.wr.Poll(cx)
			if !ok {
				return api.Result[int64]{}, false
			}
			f.wr = nil
			f.n += int64(res.Value)
			if res.Err != nil {
				return api.Result[int64]{Value: f.n, Err: res.Err}, true
			}
		}
		if f.rd == nil {
			f.rd = f.src.Read(buf)
		}
		res, ok := f.rd.Poll(cx)
		if !ok {
			return api.Result[int64]{}, false
		}
		f.rd = nil
		if errors.Is(res.Err, io.EOF) {
			return api.Ok(f.n), true
		}
		if res.Err != nil {
			return api.Result[int64]{Value: f.n, Err: res.Err}, true
		}
		f.wr = f.dst.WriteAll(buf[:res.Value])
	}
	// Out of budget with data still flowing: let other tasks run.
	cx.Waker().Wake()
	return api.Result[int64]{}, false
}

// Drop returns the buffer of an unfinished copy.
func (f *copyFuture) Drop() { f.release() }

func (f *copyFuture) release() {
	if f.buf != nil {
		pool.Default.Put(f.buf)
		f.buf = nil
	}
	f.rd, f.wr = nil, nil
}
