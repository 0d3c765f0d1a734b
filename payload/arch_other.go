//go:build !amd64 && !386

package payload

const nativeArch Arch = ""
