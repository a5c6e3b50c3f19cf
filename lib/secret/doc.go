// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passphrases in memory that the rest of the
// process cannot leak by accident.
//
// [Buffer] allocates outside the Go heap via mmap(MAP_ANONYMOUS),
// locks the pages into RAM via mlock (no swap), and excludes them
// from core dumps via madvise(MADV_DONTDUMP). Close zeros, unlocks,
// and unmaps; afterwards any access panics. Because the allocation is
// invisible to the garbage collector it is never copied or relocated,
// so zeroing on Close actually destroys the only copy.
//
// [PromptPassword] is the interactive entry point: it reads one line
// from the controlling terminal with echo disabled and returns it as
// a Buffer.
package secret
