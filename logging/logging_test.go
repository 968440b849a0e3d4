package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rankpool/models"
)

func TestRotatingWriter_KeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	rw, err := Setup(path, 16)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		rw.Close()
		log.SetOutput(os.Stderr)
	}()

	rw.Write([]byte("0123456789abcdefXYZ\n"))
	rw.Write([]byte("tail\n"))

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !strings.HasPrefix(string(backup), "0123456789") {
		t.Fatalf("backup = %q", backup)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "tail\n" {
		t.Fatalf("current = %q", current)
	}
}

func TestLogf_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
		SetLevel(models.LogLevelInfo)
	}()

	SetLevel(models.LogLevelWarn)
	Logf(models.LogLevelInfo, "musinsa", "hidden %d", 1)
	Logf(models.LogLevelError, "musinsa", "shown %d", 2)

	if got := buf.String(); got != "[error] musinsa: shown 2\n" {
		t.Fatalf("output = %q", got)
	}
}
