package app

import (
	"fmt"
	"os"
)

func currentPID() (uint32, error) {
	pid := os.Getpid()
	if pid <= 0 {
		return 0, fmt.Errorf("unusable pid %d", pid)
	}
	return uint32(pid), nil
}
