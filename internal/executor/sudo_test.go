package executor

import (
	"os"
	"testing"
)

func TestIsRoot(t *testing.T) {
	if got, want := IsRoot(), os.Geteuid() == 0; got != want {
		t.Errorf("IsRoot() = %v, want %v", got, want)
	}
}

func TestCanElevate(t *testing.T) {
	if IsRoot() && !CanElevate() {
		t.Error("CanElevate() should return true when running as root")
	}
}
