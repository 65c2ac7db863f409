//go:build !unix

package scheduler

import "os"

// Advisory locking is unix-only; elsewhere the lock file only records the pid.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
