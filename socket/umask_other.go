//go:build !unix

package socket

func restrictUmask() func() { return func() {} }
