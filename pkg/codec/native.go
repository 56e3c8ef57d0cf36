//go:build linux || darwin

package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ebitengine/purego"
)

// The native codecs are reached through thin shim libraries with a flat,
// primitive-only C surface (librtcvpx wraps libvpx, librtch264 wraps openh264,
// librtcopus wraps libopus). Handles are opaque uint64 values; all buffers are
// caller-owned. The shims are loaded lazily with dlopen so the engine starts
// on hosts that lack some of them and the device layer downgrades instead.

// Shim status codes.
const (
	nativeOK           = 0
	nativeErr          = -1
	nativeErrNoMem     = -2
	nativeErrInvalid   = -3
	nativeErrFault     = -4
	nativeErrCorrupt   = -5
)

// errNativeFault marks an invalid-memory style fault inside the native
// library. The owning encoder tears itself down and reinitializes instead of
// propagating it.
var errNativeFault = errors.New("native codec fault")

func shimError(code int32) error {
	switch code {
	case nativeErrFault:
		return errNativeFault
	case nativeErrCorrupt:
		return errors.New("corrupt bitstream")
	case nativeErrNoMem:
		return errors.New("native codec out of memory")
	case nativeErrInvalid:
		return errors.New("invalid native codec argument")
	default:
		return fmt.Errorf("native codec error %d", code)
	}
}

// loadShim dlopens one shim library, trying the env override first, then the
// executable's directory, then the system loader paths.
func loadShim(envVar, baseName string) (uintptr, error) {
	libName := baseName + ".so"
	if runtime.GOOS == "darwin" {
		libName = baseName + ".dylib"
	}

	var paths []string
	if env := os.Getenv(envVar); env != "" {
		paths = append(paths, env)
	}
	if env := os.Getenv("MEDIA_SHIM_PATH"); env != "" {
		paths = append(paths, filepath.Join(env, libName))
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, libName),
			filepath.Join(dir, "..", "lib", libName),
		)
	}
	paths = append(paths, libName)

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%s not found: %w", baseName, lastErr)
}
