//go:build !darwin

package permissions

// EnsurePermissions is a no-op on non-macOS platforms; capture access is
// governed by device file permissions there.
func EnsurePermissions() error {
	return nil
}
