//go:build amd64

package vm

func hostConvention() CallingConvention { return AMD64Convention{} }
