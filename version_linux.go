// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio

import (
	"golang.org/x/sys/unix"
)

// Minimum kernel for the io_uring features the engine relies on.
const (
	minKernelMajor = 6
	minKernelMinor = 8
)

// kernelRelease returns the running kernel's release string.
func kernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	b := uts.Release[:]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n]), nil
}

// parseRelease extracts a lenient "major.minor.patch" prefix from a
// release string. Parsing stops at the third dot or the first byte that
// is neither a digit nor a dot after a version numeral; missing
// components read as zero. Vendor suffixes like "6.8.0-41-generic" are
// tolerated.
func parseRelease(s string) (major, minor, patch int) {
	part := [3]int{}
	idx := 0
	for i := 0; i < len(s) && idx < 3; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			part[idx] = part[idx]*10 + int(c-'0')
		case c == '.':
			idx++
		default:
			return part[0], part[1], part[2]
		}
	}
	return part[0], part[1], part[2]
}

// kernelSupported reports whether release satisfies the engine's
// minimum kernel gate.
func kernelSupported(release string) bool {
	major, minor, _ := parseRelease(release)
	if major != minKernelMajor {
		return major > minKernelMajor
	}
	return minor >= minKernelMinor
}
