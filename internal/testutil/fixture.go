// Package testutil loads shared test fixtures from testdata/.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// FixturePath returns the absolute path of a file under testdata/,
// failing the test if it does not exist.
func FixturePath(t *testing.T, rel string) string {
	t.Helper()

	path := filepath.Join(getTestdataRoot(t), filepath.FromSlash(rel))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Fixture not found: %s", path)
	}
	return path
}

// Swift returns the contents of testdata/swift/<name>.swift.
func Swift(t *testing.T, name string) string {
	t.Helper()

	data, err := os.ReadFile(FixturePath(t, "swift/"+name+".swift"))
	if err != nil {
		t.Fatalf("Failed to read Swift fixture %s: %v", name, err)
	}
	return string(data)
}

// getTestdataRoot returns the absolute path to testdata/.
func getTestdataRoot(t *testing.T) string {
	t.Helper()

	// Get the directory of this source file
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}

	// Navigate from internal/testutil to project root
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	root := filepath.Join(projectRoot, "testdata")

	if _, err := os.Stat(root); os.IsNotExist(err) {
		t.Fatalf("Testdata root not found: %s", root)
	}
	return root
}
