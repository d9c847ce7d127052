//go:build !amd64 && !arm64

package vm

func hostConvention() CallingConvention { return StackConvention{} }
