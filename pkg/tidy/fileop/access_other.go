//go:build !unix

package fileop

import "os"

// Without access(2) the actual operation reports permission errors.
func writable(dir string) error {
	_, err := os.Stat(dir)
	return err
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
