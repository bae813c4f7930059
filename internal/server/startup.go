package server

import (
	"fmt"
	"os"
	"path/filepath"
)

// requiredPages are the canned pages that must exist under the resource
// root: the three error pages and the two auth-outcome redirect targets.
var requiredPages = []string{
	"/400.html",
	"/403.html",
	"/404.html",
	"/welcome.html",
	"/error.html",
}

// ValidateResourceRoot checks that root exists and that every required
// canned page is present under it. A missing page is a fatal startup error:
// better to fail fast here than 500 on the first request that needs one.
func ValidateResourceRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("resource root %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("resource root %q is not a directory", root)
	}

	for _, page := range requiredPages {
		full := filepath.Join(root, page)
		if _, err := os.Stat(full); err != nil {
			return fmt.Errorf("required page %q missing under resource root %q: %w", page, root, err)
		}
	}
	return nil
}
