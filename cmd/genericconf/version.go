// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"runtime/debug"
	"strconv"
)

// GetVersion prefers the defined values, which the release build sets
// through ldflags, and otherwise falls back to the info go embeds when
// building from a git checkout.
func GetVersion(definedVersion string, definedTime string, definedModified string) (string, string) {
	vcsRevision := "development"
	vcsTime := "development"
	vcsModified := "false"

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, v := range info.Settings {
			if v.Key == "vcs.revision" {
				vcsRevision = v.Value
			}
			if v.Key == "vcs.time" {
				vcsTime = v.Value
			}
			if v.Key == "vcs.modified" {
				vcsModified = v.Value
			}
		}
	}
	if definedVersion != "" {
		vcsRevision = definedVersion
	}
	if definedTime != "" {
		vcsTime = definedTime
	}
	if definedModified != "" {
		vcsModified = definedModified
	}
	if modified, err := strconv.ParseBool(vcsModified); err == nil && modified {
		vcsRevision += "-modified"
	}

	return vcsRevision, vcsTime
}
