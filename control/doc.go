// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control holds the runtime's configuration layer and its
// introspection surface: TOML config loading with environment overrides,
// a metrics registry fed from scheduler counters, and named debug probes
// dumped on demand.
package control
