//go:build !debug

package gather

const debugBuild = false
