// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package cache memoizes a single function to a file on disk. Entries are
// keyed by the call's arguments and the whole file is discarded when the
// function's fingerprint changes.
//
//	e, err := cache.Memoize[float64](ratio)
//	v, err := e.Call(3.0, 2.0)
//
// An Engine is not safe for concurrent use.
package cache
