// Package gpu runs the dense stage of the hybrid network on WebGPU. It is an
// optional accelerator: every caller keeps a CPU path for when no adapter is
// available.
package gpu

import (
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned when no WebGPU adapter or device can be opened.
var ErrUnavailable = errors.New("webgpu unavailable")

// Context holds the single WebGPU context for the process
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	initErr  error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on first use.
// A failed initialization is remembered and returned on every later call.
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.initErr = ctx.init()
	})
	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return errors.Wrap(ErrUnavailable, "create instance")
	}

	// Prefer a discrete NVIDIA adapter when one is enumerated
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		if Debug {
			Log("adapter %s (vendor %s, device 0x%X, type %d)", info.Name, info.VendorName, info.DeviceId, info.AdapterType)
		}
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var lastErr error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, lastErr = c.Instance.RequestAdapter(opts)
		if lastErr != nil && Debug {
			Log("adapter request failed: %v", lastErr)
		}
	}
	if c.Adapter == nil {
		return errors.Wrapf(ErrUnavailable, "no adapter: %v", lastErr)
	}

	info := c.Adapter.GetInfo()
	logger.WithFields(logrus.Fields{
		"adapter": info.Name,
		"vendor":  info.VendorName,
	}).Info("using GPU adapter")

	device, err := c.Adapter.RequestDevice(nil)
	if err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	c.Device = device
	c.Queue = device.GetQueue()
	if c.Queue == nil {
		return errors.Wrap(ErrUnavailable, "device has no queue")
	}
	return nil
}

// Available reports whether a GPU context can be opened.
func Available() bool {
	_, err := GetContext()
	return err == nil
}
