//go:build !unix

package main

// raiseFileLimit 是非 Unix 平台的空操作：RLIMIT_NOFILE 是 POSIX 概念。
func raiseFileLimit() {}
