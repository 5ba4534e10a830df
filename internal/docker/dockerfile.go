package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NodeDockerfile returns a Dockerfile that installs dependencies and runs
// cmd on port. build, when set, runs after the sources are copied.
func NodeDockerfile(baseImage string, port int, build []string, cmd []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", baseImage)
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY package*.json ./\n")
	b.WriteString("RUN npm install --no-audit --no-fund\n")
	b.WriteString("COPY . .\n")
	if len(build) > 0 {
		fmt.Fprintf(&b, "RUN %s\n", strings.Join(build, " "))
	}
	fmt.Fprintf(&b, "ENV PORT=%d\n", port)
	fmt.Fprintf(&b, "EXPOSE %d\n", port)
	quoted := make([]string, len(cmd))
	for i, c := range cmd {
		quoted[i] = strconv.Quote(c)
	}
	fmt.Fprintf(&b, "CMD [%s]\n", strings.Join(quoted, ", "))
	return b.String()
}

const dockerignore = "node_modules\n.git\ndist\n"

// WriteBuildContext writes Dockerfile and .dockerignore into dir.
func WriteBuildContext(dir, dockerfile string) error {
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("writing Dockerfile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".dockerignore"), []byte(dockerignore), 0o644); err != nil {
		return fmt.Errorf("writing .dockerignore: %w", err)
	}
	return nil
}
