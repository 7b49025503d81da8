// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio

import "testing"

func TestParseRelease(t *testing.T) {
	tests := []struct {
		in                  string
		major, minor, patch int
	}{
		{"6.8.0", 6, 8, 0},
		{"6.8.0-41-generic", 6, 8, 0},
		{"6.18.5-fc-v18", 6, 18, 5},
		{"5.15.167.4-microsoft-standard-WSL2", 5, 15, 167},
		{"6.8", 6, 8, 0},
		{"7", 7, 0, 0},
		{"6.8.rc1", 6, 8, 0},
		{"", 0, 0, 0},
	}
	for _, tt := range tests {
		major, minor, patch := parseRelease(tt.in)
		if major != tt.major || minor != tt.minor || patch != tt.patch {
			t.Errorf("parseRelease(%q): got %d.%d.%d, want %d.%d.%d",
				tt.in, major, minor, patch, tt.major, tt.minor, tt.patch)
		}
	}
}

func TestKernelSupported(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"6.8.0", true},
		{"6.8.0-41-generic", true},
		{"6.18.5", true},
		{"7.0.0", true},
		{"6.7.12", false},
		{"5.15.0", false},
		{"4.19.0", false},
	}
	for _, tt := range tests {
		if got := kernelSupported(tt.in); got != tt.ok {
			t.Errorf("kernelSupported(%q): got %v, want %v", tt.in, got, tt.ok)
		}
	}
}
