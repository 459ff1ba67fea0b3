package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/internal/core/capture"
)

func writeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "P01_20260101_120000_XRI.csv")
	sink, err := capture.NewCSVSink(path)
	if err != nil {
		t.Fatal(err)
	}
	frames := make([]capture.LogFrame, n)
	for i := range frames {
		frames[i].FrameIndex = int64(i)
		frames[i].Tick = int64(i) * 1000
		frames[i].State = capture.StateNavigating
		frames[i].Head.Rotation = mgl32.QuatIdent()
		frames[i].LeftHand.Rotation = mgl32.QuatIdent()
		frames[i].RightHand.Rotation = mgl32.QuatIdent()
	}
	if err := sink.WriteFrames(frames); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConvertFolderAndInspect(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, 3)

	var out bytes.Buffer
	if err := run([]string{dir}, &out); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "P01_20260101_120000_XRI.bin")
	if _, err := os.Stat(bin); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "3 frames") {
		t.Fatalf("output %q", out.String())
	}

	out.Reset()
	if err := run([]string{dir}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "skip") {
		t.Fatalf("existing output must be kept without -f: %q", out.String())
	}

	out.Reset()
	if err := run([]string{"-inspect", bin}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "frames=3") || !strings.Contains(out.String(), "state=true") {
		t.Fatalf("inspect %q", out.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err == nil {
		t.Fatal("no arguments must fail")
	}
	if err := run([]string{t.TempDir()}, &out); err == nil {
		t.Fatal("folder without csv must fail")
	}
	if err := run([]string{"-inspect", "x.txt"}, &out); err == nil {
		t.Fatal("unknown file type must fail")
	}
}
