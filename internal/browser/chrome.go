package browser

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

func chromePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		var out []string
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
			if dir := os.Getenv(env); dir != "" {
				out = append(out, filepath.Join(dir, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
		return out
	}
	return nil
}

// FindChrome returns the Chrome binary that will be used. configured wins
// when it exists. ok is false when nothing was found.
func FindChrome(configured string) (path string, ok bool) {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, true
		}
		return configured, false
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	for _, p := range chromePaths() {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
