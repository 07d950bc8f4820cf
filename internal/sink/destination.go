package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveFilePath applies the same file-vs-directory destination rule the
// tabular sink uses to every file-based sink: destination is a literal file
// path if it already carries the format's extension, otherwise it names a
// directory that receives "<site_name>.<ext>".
func resolveFilePath(destination, siteName, ext string) (string, error) {
	if destination == "" {
		return "", errRequiredDestination(ext)
	}
	if strings.HasSuffix(destination, "."+ext) {
		return destination, nil
	}
	return filepath.Join(destination, siteName+"."+ext), nil
}

func errRequiredDestination(ext string) error {
	return fmt.Errorf("output destination is required for the %s sink", ext)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
