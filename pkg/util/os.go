package util

import "os"

// MkdirAllX calls os.MkdirAll with the passed permissions
// but with +x for a user and a group, so the created directory
// can be entered whatever permissions are passed.
func MkdirAllX(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm|0110)
}
