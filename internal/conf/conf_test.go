package conf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetupConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "config.toml")
	bc, err := SetupConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if bc.Capture.SampleInterval.Duration() != time.Second/90 || bc.ConfigDir != filepath.Dir(path) {
		t.Fatalf("bootstrap = %+v", bc)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("default config not written:", err)
	}

	again, err := SetupConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Mocap != bc.Mocap || again.Capture != bc.Capture || again.Retention != bc.Retention {
		t.Fatalf("reloaded config differs: %+v", again)
	}
}

func TestSetupConfigParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[capture]
sample_interval = "20ms"
max_catch_up = 0
buffer_capacity = 2

[mocap]
retry_delay = "2s"
max_retry_delay = "1s"
bone_count = 5000

[retention]
disk_usage_threshold = 250
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	bc, err := SetupConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if bc.Capture.SampleInterval.Duration() != 20*time.Millisecond {
		t.Fatalf("sample_interval = %s", bc.Capture.SampleInterval)
	}
	if bc.Capture.MaxCatchUp != 1 || bc.Capture.BufferCapacity != 16 {
		t.Fatalf("capture not clamped: %+v", bc.Capture)
	}
	if bc.Mocap.MaxRetryDelay.Duration() != 2*time.Second || bc.Mocap.BoneCount != 1024 {
		t.Fatalf("mocap not clamped: %+v", bc.Mocap)
	}
	if bc.Retention.DiskUsageThreshold != 95 {
		t.Fatalf("threshold = %v", bc.Retention.DiskUsageThreshold)
	}
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"150ms","b":1000}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A.Duration() != 150*time.Millisecond || v.B.Duration() != time.Microsecond {
		t.Fatalf("got %s %s", v.A, v.B)
	}
}

func TestMotionFreeze(t *testing.T) {
	r := Replay{MotionFreezeFactor: 5}
	if got := r.MotionFreeze(Duration(10 * time.Millisecond)); got.Duration() != 50*time.Millisecond {
		t.Fatalf("MotionFreeze = %s", got)
	}
}
