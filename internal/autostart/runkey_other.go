//go:build !windows

package autostart

func newRunKey() (Manager, error) {
	return nil, ErrUnsupported
}
