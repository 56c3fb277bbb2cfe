package main

import (
	"fmt"
	"os/exec"
	"strings"
)

var (
	// Set at build time via go build -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetGitCommit returns the build-time commit, or asks git when it was not set
func GetGitCommit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	output, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

// GetBuildInfo returns the version line printed by `respguard version`
func GetBuildInfo() string {
	return fmt.Sprintf("respguard v%s (commit: %s, built: %s)", Version, GetGitCommit(), BuildTime)
}
