package config

import (
	"os"
	"path/filepath"
)

// PortPlaceholder is replaced with the assigned port in run commands.
const PortPlaceholder = "{port}"

type Detection struct {
	Kind           string
	InstallCommand []string
	RunCommand     []string
	ReadyMarker    string
	Port           int
}

// Detect inspects an app directory and returns how to install and serve it.
func Detect(appDir string) Detection {
	checks := []struct {
		files   []string
		kind    string
		install []string
		run     []string
		marker  string
		port    int
	}{
		{[]string{"vite.config.ts", "vite.config.js", "vite.config.mjs"}, "vite",
			[]string{"npm", "install"}, []string{"npm", "run", "dev", "--", "--port", PortPlaceholder, "--strictPort"}, "Local:", 5173},
		{[]string{"next.config.js", "next.config.mjs", "next.config.ts"}, "next",
			[]string{"npm", "install"}, []string{"npm", "run", "dev"}, "Local:", 3000},
		{[]string{"package.json"}, "node",
			[]string{"npm", "install"}, []string{"npm", "run", "dev"}, "Local:", 3000},
		{[]string{"index.html"}, "static",
			nil, []string{"python3", "-m", "http.server", PortPlaceholder}, "Serving HTTP", 8000},
	}

	for _, c := range checks {
		for _, f := range c.files {
			if _, err := os.Stat(filepath.Join(appDir, f)); err == nil {
				return Detection{
					Kind:           c.kind,
					InstallCommand: c.install,
					RunCommand:     c.run,
					ReadyMarker:    c.marker,
					Port:           c.port,
				}
			}
		}
	}

	return Detection{
		Kind:           "unknown",
		InstallCommand: []string{"npm", "install"},
		RunCommand:     []string{"npm", "run", "dev"},
		ReadyMarker:    "Local:",
		Port:           3000,
	}
}
