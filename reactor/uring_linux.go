//go:build linux && (amd64 || arm64 || riscv64 || loong64 || ppc64le || mips64le)

// File: reactor/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring backend. Readiness is requested with IORING_OP_POLL_ADD, one SQE
// per direction, tagged token<<2|direction in user_data. Multi-shot polls
// are used when the kernel accepts them; otherwise each direction is
// re-armed after its task observed EAGAIN. Timed waits are bounded by an
// IORING_OP_TIMEOUT SQE.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

const (
	ioringOffSQRing = 0
	ioringOffCQRing = 0x8000000
	ioringOffSQEs   = 0x10000000

	ioringFeatSingleMmap = 1 << 0
	ioringEnterGetEvents = 1 << 0

	ioringOpPollAdd    = 6
	ioringOpPollRemove = 7
	ioringOpTimeout    = 11

	ioringPollAddMulti = 1 << 0
	ioringCQEFMore     = 1 << 1

	pollIn    = 0x1
	pollOut   = 0x4
	pollErr   = 0x8
	pollHup   = 0x10
	pollRdHup = 0x2000

	dirRead  = 1
	dirWrite = 2

	uringWakeData    = wakeToken<<2 | dirRead
	uringTimeoutData = ^uint64(0)
	uringRemoveData  = ^uint64(0) - 1
)

type uringSQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type uringCQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        uringSQOffsets
	cqOff        uringCQOffsets
}

type uringSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	addr3       uint64
	_           uint64
}

type uringCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

type kernelTimespec struct {
	sec  int64
	nsec int64
}

type uringBackend struct {
	fd     int
	sqRing []byte
	cqRing []byte
	sqeMem []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqArray   []uint32
	sqes      []uringSQE

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uringCQE

	wakeFd    int
	multishot bool
	log       zerolog.Logger

	// mu guards the submission side and the bookkeeping below.
	mu           sync.Mutex
	armed        map[uint64]bool
	live         map[uint64]int
	ts           kernelTimespec
	timeoutArmed bool
	armedUntil   time.Time
}

func newUringBackend(entries uint32, allowMultishot bool, log zerolog.Logger) (*uringBackend, error) {
	var p uringParams
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	u := &uringBackend{
		fd:     int(fd),
		wakeFd: -1,
		log:    log,
		armed:  make(map[uint64]bool),
		live:   make(map[uint64]int),
	}
	if err := u.mapRings(&p); err != nil {
		u.close()
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		u.close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	u.wakeFd = wfd

	if err := u.probeTimeout(); err != nil {
		u.close()
		return nil, err
	}
	u.multishot = allowMultishot && u.probeMultishot()
	if !u.multishot {
		u.mu.Lock()
		err = u.armLocked(wfd, uringWakeData, pollIn)
		u.mu.Unlock()
		if err != nil {
			u.close()
			return nil, err
		}
	}
	log.Debug().Bool("multishot", u.multishot).Uint32("entries", u.sqEntries).Msg("io_uring ready")
	return u, nil
}

func (u *uringBackend) mapRings(p *uringParams) error {
	sqSize := int(p.sqOff.array + p.sqEntries*4)
	cqSize := int(p.cqOff.cqes + p.cqEntries*uint32(unsafe.Sizeof(uringCQE{})))
	single := p.features&ioringFeatSingleMmap != 0
	if single && cqSize > sqSize {
		sqSize = cqSize
	}

	var err error
	u.sqRing, err = unix.Mmap(u.fd, ioringOffSQRing, sqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	if single {
		u.cqRing = u.sqRing
	} else {
		u.cqRing, err = unix.Mmap(u.fd, ioringOffCQRing, cqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			return fmt.Errorf("mmap cq ring: %w", err)
		}
	}
	sqeSize := int(p.sqEntries) * int(unsafe.Sizeof(uringSQE{}))
	u.sqeMem, err = unix.Mmap(u.fd, ioringOffSQEs, sqeSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}

	u.sqHead = u32At(u.sqRing, p.sqOff.head)
	u.sqTail = u32At(u.sqRing, p.sqOff.tail)
	u.sqMask = *u32At(u.sqRing, p.sqOff.ringMask)
	u.sqEntries = *u32At(u.sqRing, p.sqOff.ringEntries)
	u.sqArray = unsafe.Slice(u32At(u.sqRing, p.sqOff.array), p.sqEntries)
	u.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&u.sqeMem[0])), p.sqEntries)

	u.cqHead = u32At(u.cqRing, p.cqOff.head)
	u.cqTail = u32At(u.cqRing, p.cqOff.tail)
	u.cqMask = *u32At(u.cqRing, p.cqOff.ringMask)
	u.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&u.cqRing[p.cqOff.cqes])), p.cqEntries)
	return nil
}

func u32At(b []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func (u *uringBackend) kind() Kind { return KindIOUring }

func (u *uringBackend) add(fd int, token uint64, interest api.Interest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.live[token] = fd
	for _, d := range directions(interest) {
		if err := u.armLocked(fd, token<<2|d, pollMaskFor(d)); err != nil {
			delete(u.live, token)
			return err
		}
	}
	return nil
}

func (u *uringBackend) del(_ int, token uint64, interest api.Interest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.live, token)
	for _, d := range directions(interest) {
		ud := token<<2 | d
		if !u.armed[ud] {
			continue
		}
		delete(u.armed, ud)
		if err := u.pushLocked(func(sqe *uringSQE) {
			sqe.opcode = ioringOpPollRemove
			sqe.fd = -1
			sqe.addr = ud
			sqe.userData = uringRemoveData
		}); err != nil {
			return err
		}
	}
	return u.submitLocked()
}

func (u *uringBackend) rearm(fd int, token uint64, dir api.Interest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.live[token]; !ok {
		return nil
	}
	for _, d := range directions(dir) {
		ud := token<<2 | d
		if u.armed[ud] {
			continue
		}
		if err := u.armLocked(fd, ud, pollMaskFor(d)); err != nil {
			return err
		}
	}
	return nil
}

func (u *uringBackend) armLocked(fd int, ud uint64, mask uint32) error {
	err := u.pushLocked(func(sqe *uringSQE) {
		sqe.opcode = ioringOpPollAdd
		sqe.fd = int32(fd)
		sqe.opFlags = mask
		sqe.userData = ud
		if u.multishot {
			sqe.len = ioringPollAddMulti
		}
	})
	if err != nil {
		return err
	}
	u.armed[ud] = true
	return u.submitLocked()
}

func (u *uringBackend) wait(timeout time.Duration, out []event) ([]event, error) {
	if timeout > 0 {
		if err := u.armTimeout(timeout); err != nil {
			return out, err
		}
	}
	var minComplete uint32 = 1
	if timeout == 0 || u.cqReady() > 0 {
		minComplete = 0
	}
	if _, err := u.enter(0, minComplete, ioringEnterGetEvents); err != nil &&
		!errors.Is(err, unix.EBUSY) && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.ETIME) {
		return out, err
	}
	return u.reap(out), nil
}

func (u *uringBackend) armTimeout(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.timeoutArmed && !deadline.Before(u.armedUntil) {
		return nil
	}
	u.ts = kernelTimespec{sec: int64(timeout / time.Second), nsec: int64(timeout % time.Second)}
	err := u.pushLocked(func(sqe *uringSQE) {
		sqe.opcode = ioringOpTimeout
		sqe.fd = -1
		sqe.addr = uint64(uintptr(unsafe.Pointer(&u.ts)))
		sqe.len = 1
		sqe.userData = uringTimeoutData
	})
	if err != nil {
		return err
	}
	if err := u.submitLocked(); err != nil {
		return err
	}
	u.timeoutArmed = true
	u.armedUntil = deadline
	return nil
}

func (u *uringBackend) cqReady() uint32 {
	return atomic.LoadUint32(u.cqTail) - atomic.LoadUint32(u.cqHead)
}

func (u *uringBackend) reap(out []event) []event {
	head := atomic.LoadUint32(u.cqHead)
	tail := atomic.LoadUint32(u.cqTail)
	for ; head != tail; head++ {
		c := u.cqes[head&u.cqMask]
		out = u.complete(c, out)
	}
	atomic.StoreUint32(u.cqHead, head)
	return out
}

func (u *uringBackend) complete(c uringCQE, out []event) []event {
	switch c.userData {
	case uringTimeoutData:
		u.mu.Lock()
		u.timeoutArmed = false
		u.mu.Unlock()
		return out
	case uringRemoveData:
		return out
	case uringWakeData:
		drainEventfd(u.wakeFd)
		if c.flags&ioringCQEFMore == 0 {
			u.mu.Lock()
			delete(u.armed, uringWakeData)
			if err := u.armLocked(u.wakeFd, uringWakeData, pollIn); err != nil {
				u.log.Error().Err(err).Msg("io_uring: rearm wakeup poll")
			}
			u.mu.Unlock()
		}
		return out
	}

	token := c.userData >> 2
	more := c.flags&ioringCQEFMore != 0
	if !more {
		u.mu.Lock()
		delete(u.armed, c.userData)
		fd, live := u.live[token]
		// A terminated multi-shot poll is re-armed right away; one-shot
		// polls wait for the task to observe EAGAIN.
		if live && u.multishot && c.res >= 0 {
			if err := u.armLocked(fd, c.userData, pollMaskFor(c.userData&3)); err != nil {
				u.log.Debug().Err(err).Int("fd", fd).Msg("io_uring: rearm multishot poll")
			}
		}
		u.mu.Unlock()
	}
	if c.res < 0 {
		if unix.Errno(-c.res) == unix.ECANCELED {
			return out
		}
		return append(out, event{token: token, ready: api.ReadyError})
	}
	return append(out, event{token: token, ready: pollReadiness(uint32(c.res))})
}

func (u *uringBackend) wake() error { return signalEventfd(u.wakeFd) }

func (u *uringBackend) close() error {
	if u.sqeMem != nil {
		_ = unix.Munmap(u.sqeMem)
	}
	if u.cqRing != nil && &u.cqRing[0] != &u.sqRing[0] {
		_ = unix.Munmap(u.cqRing)
	}
	if u.sqRing != nil {
		_ = unix.Munmap(u.sqRing)
	}
	u.sqeMem, u.cqRing, u.sqRing = nil, nil, nil
	if u.wakeFd >= 0 {
		_ = unix.Close(u.wakeFd)
	}
	return unix.Close(u.fd)
}

// pushLocked fills the next free SQE. The caller holds u.mu.
func (u *uringBackend) pushLocked(fill func(*uringSQE)) error {
	tail := atomic.LoadUint32(u.sqTail)
	if tail-atomic.LoadUint32(u.sqHead) >= u.sqEntries {
		if err := u.submitLocked(); err != nil {
			return err
		}
		if tail-atomic.LoadUint32(u.sqHead) >= u.sqEntries {
			return unix.EBUSY
		}
	}
	idx := tail & u.sqMask
	sqe := &u.sqes[idx]
	*sqe = uringSQE{}
	fill(sqe)
	u.sqArray[idx] = idx
	atomic.StoreUint32(u.sqTail, tail+1)
	return nil
}

func (u *uringBackend) submitLocked() error {
	n := atomic.LoadUint32(u.sqTail) - atomic.LoadUint32(u.sqHead)
	if n == 0 {
		return nil
	}
	_, err := u.enter(n, 0, 0)
	return err
}

func (u *uringBackend) enter(toSubmit, minComplete, flags uint32) (int, error) {
	for {
		r1, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(u.fd),
			uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
		if errno == unix.EINTR {
			if minComplete > 0 {
				return 0, nil
			}
			continue
		}
		if errno != 0 {
			return 0, errno
		}
		return int(r1), nil
	}
}

// probeTimeout fails on kernels without IORING_OP_TIMEOUT, which the
// backend needs for bounded waits.
func (u *uringBackend) probeTimeout() error {
	u.mu.Lock()
	u.ts = kernelTimespec{nsec: int64(time.Microsecond)}
	err := u.pushLocked(func(sqe *uringSQE) {
		sqe.opcode = ioringOpTimeout
		sqe.fd = -1
		sqe.addr = uint64(uintptr(unsafe.Pointer(&u.ts)))
		sqe.len = 1
		sqe.userData = uringTimeoutData
	})
	u.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := u.enter(1, 1, ioringEnterGetEvents); err != nil {
		return fmt.Errorf("io_uring timeout probe: %w", err)
	}
	res, ok := u.takeProbe(uringTimeoutData)
	if !ok {
		return errors.New("io_uring timeout probe: no completion")
	}
	if unix.Errno(-res) != unix.ETIME {
		return fmt.Errorf("io_uring timeout probe: %w", unix.Errno(-res))
	}
	return nil
}

// probeMultishot arms the wakeup poll in multi-shot mode. Kernels that do
// not know IORING_POLL_ADD_MULTI reject the SQE with EINVAL immediately.
func (u *uringBackend) probeMultishot() bool {
	u.mu.Lock()
	u.multishot = true
	err := u.armLocked(u.wakeFd, uringWakeData, pollIn)
	u.mu.Unlock()
	if err != nil {
		u.multishot = false
		return false
	}
	if _, err := u.enter(0, 0, ioringEnterGetEvents); err != nil {
		u.multishot = false
		return false
	}
	if res, ok := u.takeProbe(uringWakeData); ok && res < 0 {
		u.mu.Lock()
		delete(u.armed, uringWakeData)
		u.multishot = false
		u.mu.Unlock()
		return false
	}
	return true
}

// takeProbe consumes the completion tagged ud, if present.
func (u *uringBackend) takeProbe(ud uint64) (int32, bool) {
	head := atomic.LoadUint32(u.cqHead)
	tail := atomic.LoadUint32(u.cqTail)
	var (
		res   int32
		found bool
	)
	for ; head != tail; head++ {
		c := u.cqes[head&u.cqMask]
		if c.userData == ud && !found {
			res, found = c.res, true
		}
	}
	atomic.StoreUint32(u.cqHead, head)
	return res, found
}

func directions(i api.Interest) []uint64 {
	switch i & api.InterestReadWrite {
	case api.InterestRead:
		return []uint64{dirRead}
	case api.InterestWrite:
		return []uint64{dirWrite}
	case api.InterestReadWrite:
		return []uint64{dirRead, dirWrite}
	}
	return nil
}

func pollMaskFor(dir uint64) uint32 {
	if dir == dirWrite {
		return pollOut
	}
	return pollIn | pollRdHup
}

func pollReadiness(mask uint32) api.Readiness {
	var r api.Readiness
	if mask&pollIn != 0 {
		r |= api.ReadyRead
	}
	if mask&pollOut != 0 {
		r |= api.ReadyWrite
	}
	if mask&pollRdHup != 0 {
		r |= api.ReadyReadClosed
	}
	if mask&pollHup != 0 {
		r |= api.ReadyReadClosed | api.ReadyWriteClosed
	}
	if mask&pollErr != 0 {
		r |= api.ReadyError
	}
	return r
}
