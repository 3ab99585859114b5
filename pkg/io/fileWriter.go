package io

import (
	"fmt"
	"os"
	"path"
)

// MakeDirForFile ensures the directory component of fullPath exists,
// creating it (and any parents) with the same permissions a config or log
// file's directory would need. what names the caller's purpose for the
// file, used only to make a failing error message readable.
func MakeDirForFile(fullPath string, what string) error {
	dir := path.Dir(fullPath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not create dir for %s: %w", what, err)
	}
	return nil
}
