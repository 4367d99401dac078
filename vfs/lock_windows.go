//go:build windows

// lock_windows.go implements file locking on Windows via exclusive open.
package vfs

import (
	"io"
	"os"
	"syscall"
)

type fileLock struct {
	f *os.File
}

func lockFile(name string) (io.Closer, error) {
	p, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	// A zero share mode makes every other open of the file fail while
	// this handle is held.
	h, err := syscall.CreateFile(p, syscall.GENERIC_READ|syscall.GENERIC_WRITE, 0, nil,
		syscall.OPEN_ALWAYS, syscall.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: os.NewFile(uintptr(h), name)}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
