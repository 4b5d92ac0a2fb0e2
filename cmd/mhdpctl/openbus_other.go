//go:build !linux

package main

import (
	"fmt"

	"github.com/hwplane/mhdp/internal/busio"
)

func openPhysical(base uint64) (busio.Bus32, error) {
	return nil, fmt.Errorf("--mem requires /dev/mem; only available on linux")
}
