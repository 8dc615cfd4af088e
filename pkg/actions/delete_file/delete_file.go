package delete_file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DeleteFileAction removes a single regular file given its absolute path.
type DeleteFileAction struct{}

func (dfa *DeleteFileAction) Name() string {
	return "delete_file"
}

// Execute removes data["path"]. A missing file yields an error wrapping
// fs.ErrNotExist so callers can report it as a failed, harmless outcome.
func (dfa *DeleteFileAction) Execute(ctx context.Context, data map[string]interface{}) error {
	path, _ := data["path"].(string)
	if path == "" {
		return fmt.Errorf("missing 'path' in action data for delete_file action")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("refusing to delete relative path %q", path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to delete directory %s", path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
