// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cache

import "errors"

var (
	// ErrInvalidTarget is returned by Bind for anything that is not a
	// function returning (R) or (R, error).
	ErrInvalidTarget = errors.New("invalid cache target")
	// ErrAlreadyBound is returned by a second Bind.
	ErrAlreadyBound = errors.New("cache already bound to a function")
	// ErrUnbound is returned by operations that need a bound function.
	ErrUnbound = errors.New("cache is not bound to a function")
	// ErrCacheNotFound means there is no file at the cache path.
	ErrCacheNotFound = errors.New("cache file not found")
	// ErrCacheIsDirectory means the cache path names a directory.
	ErrCacheIsDirectory = errors.New("cache path is a directory")
	// ErrFingerprintMismatch means the file was written for a different
	// version of the function.
	ErrFingerprintMismatch = errors.New("cache fingerprint mismatch")
	// ErrArguments covers arguments the bound function cannot accept.
	ErrArguments = errors.New("invalid arguments")
)
