package app

import (
	"os/exec"
	"runtime"
)

// openWithDesktop hands path to the platform's "open with default app" tool.
func openWithDesktop(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	// the viewer outlives us; only reap the launcher
	go func() { _ = cmd.Wait() }()
	return nil
}
