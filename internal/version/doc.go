// Package version carries build metadata shared by alarm-observer and alarm-ctl.
//
// Version, Commit and BuildTime are set through -ldflags "-X ..." at release time.
package version
