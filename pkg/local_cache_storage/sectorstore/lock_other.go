//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package sectorstore

import (
	"errors"
	"os"
)

var errLocked = errors.New("store is locked by another process")

func lockFile(*os.File, bool) error {
	return nil
}

func unlockFile(*os.File) error {
	return nil
}
