// File: mpsc/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package mpsc is a multi-producer single-consumer channel whose send and
// receive operations are runtime futures. Bounded channels suspend senders
// while full; unbounded ones never do.
package mpsc
