// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// dyncache is the command line tool for the persistent function result
// caches written by internal/cache. It lists, inspects, compares, converts
// and purges cache files.
package main
