//go:build unix

package fileop

import "golang.org/x/sys/unix"

func writable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}

func readable(path string) error {
	return unix.Access(path, unix.R_OK)
}
