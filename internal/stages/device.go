package stages

import "context"

// Device serialises access to one accelerator. ClearCache, when set, runs
// immediately before and after every reserved call so device memory from a
// previous task never carries into the next one.
type Device struct {
	slot       chan struct{}
	clearCache func()
}

func NewDevice(clearCache func()) *Device {
	return &Device{slot: make(chan struct{}, 1), clearCache: clearCache}
}

// Run reserves the device for the duration of fn.
func (d *Device) Run(ctx context.Context, fn func(context.Context) error) error {
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.slot }()

	d.clear()
	defer d.clear()
	return fn(ctx)
}

func (d *Device) clear() {
	if d.clearCache != nil {
		d.clearCache()
	}
}
