package debug

import (
	"os"
	"strconv"
)

type debug struct {
	Scan   bool
	Build  bool
	Verify bool
	Unify  bool
	Jobs   bool
	LSP    bool
}

var d *debug

func init() {
	d = &debug{}
	d.Scan = boolEnv("MM_DEBUG_SCAN")
	d.Build = boolEnv("MM_DEBUG_BUILD")
	d.Verify = boolEnv("MM_DEBUG_VERIFY")
	d.Unify = boolEnv("MM_DEBUG_UNIFY")
	d.Jobs = boolEnv("MM_DEBUG_JOBS")
	d.LSP = boolEnv("MM_DEBUG_LSP")
}

func boolEnv(v string) bool {
	x := os.Getenv(v)
	if x == "" {
		return false
	}
	b, _ := strconv.ParseBool(x)
	return b
}

func Scan() bool {
	return d.Scan
}
func Build() bool {
	return d.Build
}
func Verify() bool {
	return d.Verify
}
func Unify() bool {
	return d.Unify
}
func Jobs() bool {
	return d.Jobs
}
func LSP() bool {
	return d.LSP
}
