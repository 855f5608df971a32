package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// OpenTestBolt opens a bbolt store in t.TempDir() and registers cleanup.
func OpenTestBolt(t *testing.T) *Bolt {
	t.Helper()

	s, err := OpenBolt(filepath.Join(t.TempDir(), "events.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test bolt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
