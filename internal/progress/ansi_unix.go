//go:build !windows

package progress

import "os"

func enableWindowsANSI(f *os.File) {}
