package gpu

import (
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// readTimeout bounds how long a buffer map may take before the read fails.
const readTimeout = 2 * time.Second

// EnsureGPU ensures the GPU context is initialized
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

// mapRead maps a MapRead buffer and copies out size float32 values. The
// device is polled without blocking so a lost device times out instead of
// hanging.
func mapRead(c *Context, buf *wgpu.Buffer, size int) ([]float32, error) {
	sizeBytes := uint64(size * 4)
	done := make(chan struct{})
	var mapErr error

	err := buf.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = errors.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, errors.Wrap(err, "map buffer")
	}

	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, errors.Errorf("buffer read timed out after %s", readTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := buf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		buf.Unmap()
		return nil, errors.New("mapped range is nil")
	}
	out := make([]float32, size)
	copy(out, wgpu.FromBytes[float32](data))
	buf.Unmap()
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// flatten packs rows of equal length n into one float32 slice.
func flatten(rows [][]float64, n int) []float32 {
	out := make([]float32, 0, len(rows)*n)
	for _, r := range rows {
		for _, x := range r {
			out = append(out, float32(x))
		}
	}
	return out
}
