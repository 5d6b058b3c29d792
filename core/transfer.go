// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"math"
	"time"
)

// WaitForever is the timeout used for waits that are not expected to
// ever expire.
const WaitForever = time.Duration(math.MaxInt64)

// NewTransferContext creates the dedicated command pool, command buffer
// and fence used by ImmediateSubmit. They are registered in dq.
func NewTransferContext(dev Device, rec Recorder, dq *DisposalQueue) (*TransferContext, error) {
	fence, err := dev.CreateFence(false)
	if err != nil {
		return nil, err
	}
	dq.Push(FenceResource, fence)

	pool, err := dev.CreateCommandPool()
	if err != nil {
		return nil, err
	}
	dq.Push(CommandPoolResource, pool)

	cmd, err := dev.AllocateCommandBuffer(pool)
	if err != nil {
		return nil, err
	}

	return &TransferContext{
		dev:   dev,
		rec:   rec,
		fence: fence,
		pool:  pool,
		cmd:   cmd,
	}, nil
}

// TransferContext records and synchronously executes one-off uploads,
// independent of the frame ring. It owns a single command buffer and
// fence, so it must not be used from more than one goroutine at a time.
type TransferContext struct {
	dev Device
	rec Recorder

	fence Fence
	pool  CommandPool
	cmd   CommandBuffer

	busy bool
}

// ImmediateSubmit records action into the transfer command buffer, submits
// it and blocks until the GPU has finished executing it. Calling it again
// from within action returns ErrTransferBusy.
func (t *TransferContext) ImmediateSubmit(action func(cmd CommandBuffer)) error {
	if t.busy {
		return ErrTransferBusy
	}
	t.busy = true
	defer func() { t.busy = false }()

	if err := t.rec.Begin(t.cmd); err != nil {
		return err
	}
	action(t.cmd)
	if err := t.rec.End(t.cmd); err != nil {
		return err
	}

	if err := t.dev.Submit(Submission{
		CommandBuffer: t.cmd,
		Fence:         t.fence,
	}); err != nil {
		return err
	}

	if err := t.dev.WaitForFence(t.fence, WaitForever); err != nil {
		return err
	}
	if err := t.dev.ResetFence(t.fence); err != nil {
		return err
	}
	return t.dev.ResetCommandPool(t.pool)
}
