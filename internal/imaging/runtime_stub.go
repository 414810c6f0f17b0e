//go:build !govips || !cgo

package imaging

import "errors"

func Startup() error {
	return nil
}

func Shutdown() {}

func vipsBackend() (Backend, error) {
	return nil, errors.New("vips backend requires a build with the govips tag and cgo")
}
