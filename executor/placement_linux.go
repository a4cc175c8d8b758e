//go:build linux

package executor

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func pin(cpu int) (int, error) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return -1, err
	}
	return numaNodeOf(cpu), nil
}

// numaNodeOf resolves the NUMA node of a cpu from sysfs. Single node
// systems and restricted environments resolve to node 0.
func numaNodeOf(cpu int) int {
	entries, err := os.ReadDir("/sys/devices/system/cpu/cpu" + strconv.Itoa(cpu))
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "node") {
			if node, err := strconv.Atoi(name[len("node"):]); err == nil {
				return node
			}
		}
	}
	return 0
}
