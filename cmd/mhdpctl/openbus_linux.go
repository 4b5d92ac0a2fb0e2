//go:build linux

package main

import (
	"github.com/hwplane/mhdp/internal/busio"
)

// registerWindow is the size of the controller's APB register space.
const registerWindow = 0x100000

func openPhysical(base uint64) (busio.Bus32, error) {
	return busio.OpenDevMem(base, registerWindow)
}
