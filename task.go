// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

// TaskFunc is a pure CPU task body.
type TaskFunc func(userdata any)

// CompletionFunc is an I/O-completion continuation. res carries the
// kernel completion result; negative values are errno codes.
type CompletionFunc func(res int32, userdata any)

type taskKind uint8

const (
	taskCPU taskKind = iota
	taskCompletion
)

// task is a unit of work consumed by exactly one worker.
//
// Either fn or cfn is set, never both; kind discriminates. The record
// is produced at submission and dropped after the callback returns.
type task struct {
	kind     taskKind
	fn       TaskFunc
	cfn      CompletionFunc
	userdata any
	res      int32
}
