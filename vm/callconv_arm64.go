//go:build arm64

package vm

func hostConvention() CallingConvention { return ARM64Convention{} }
