package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/servermanager/internal/errors"
)

const starterConfig = `# servermanager configuration
server:
  database: none
  watch: false

web:
  host: ""
  port: 8080
  root: ./web/
  defaultFile: index.html
  webSocket: true
  messageSizeLimit: 100000

cache:
  format: file
  file: ./cache.json
  interval: 300

log:
  format: stdout
  level: info
`

const starterIndex = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>servermanager</title>
  <script src="/servermanager.js"></script>
</head>
<body>
  <pre id="out"></pre>
  <script>
    var sm = servermanager({webSocket: true});
    sm.fetch("hello", {from: "browser"}).then(function (res) {
      document.getElementById("out").textContent = JSON.stringify(res, null, 2);
    });
  </script>
</body>
</html>
`

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter configuration and web root",
		Long: `Write servermanager.yaml and web/index.html into dir (default: the
current directory). Existing files are kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")

	return cmd
}

func runInit(dir string, force bool) error {
	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(dir, defaultConfigFile), starterConfig},
		{filepath.Join(dir, "web", "index.html"), starterIndex},
	}

	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !force {
			warn("%s exists, skipping", f.path)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return errors.Newf(errors.CategoryCLI, "cannot create %s", filepath.Dir(f.path)).Wrap(err)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return errors.Newf(errors.CategoryCLI, "cannot write %s", f.path).Wrap(err)
		}
		success("wrote %s", f.path)
	}

	fmt.Println()
	info("start with: servermanager serve --config %s", filepath.Join(dir, defaultConfigFile))
	return nil
}
