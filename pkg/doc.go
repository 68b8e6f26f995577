// Package pkg provides shared utilities for the USB MITM proxy.
//
// This package contains common functionality used across the injection,
// pump, ep0, gpio, deviceside, gadgetside, runtime, config and cmd/usbproxy
// packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for proxy and USB protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with proxy-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentPump, "endpoint pump started", "address", 0x81)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
package pkg
