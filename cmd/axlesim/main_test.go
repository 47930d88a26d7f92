package main

import "testing"

func TestLoadInitrdRequiresPath(t *testing.T) {
	if _, err := loadInitrd(""); err == nil {
		t.Fatalf("expected an error when -initrd is unset")
	}
}
