//go:build !linux

package socket

func applyConnOptions(int, Options) {}

func applyListenerOptions(int, Options) error { return nil }
