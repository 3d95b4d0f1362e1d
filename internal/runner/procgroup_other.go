//go:build !(darwin || linux)

package runner

import "os/exec"

// setupProcessGroup leaves cmd unchanged; cancellation kills only the
// direct child.
func setupProcessGroup(cmd *exec.Cmd) {}
