package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFiles writes files, keyed by relative path, under a fresh temporary
// directory and returns the directory.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// BracketHCL declares the "bracket" template used across tests. The coating
// stage takes var.cure_hours.
const BracketHCL = `
variable "cure_hours" {
  type    = number
  default = 4
}

resource "printing" {}
resource "coating" { available = true }
resource "polishing" { available = false }

template "bracket" {
  stage "print" {
    department     = "printing"
    duration_hours = 2
  }
  stage "coat" {
    department     = "coating"
    duration_hours = var.cure_hours
    priority       = 2
  }
}
`
