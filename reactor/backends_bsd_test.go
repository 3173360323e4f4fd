//go:build darwin || freebsd

// File: reactor/backends_bsd_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

func testBackends() []Kind { return []Kind{KindKqueue} }
