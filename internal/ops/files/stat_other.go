//go:build !linux

package files

import "io/fs"

// fileTimes returns (mtime, ctime) as fractional epoch seconds. Platforms
// without a portable change time report the modification time for both.
func fileTimes(info fs.FileInfo) (float64, float64) {
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	return mtime, mtime
}
