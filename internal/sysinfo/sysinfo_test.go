package sysinfo

import "testing"

func TestVersion_NotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version must not be empty")
	}
}
