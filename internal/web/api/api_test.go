package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gowvp/lumen/internal/conf"
	"github.com/gowvp/lumen/internal/core/session"
	"github.com/gowvp/lumen/internal/core/session/store/sessiondb"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	bc := conf.DefaultConfig()
	bc.Capture.DataDir = filepath.Join(t.TempDir(), "sessions")
	bc.Capture.FrameRate = 0
	bc.Retention.DiskUsageThreshold = 0
	bc.Mocap.Enabled = true
	bc.Mocap.Host = "127.0.0.1"
	bc.Mocap.Port = 1
	bc.Mocap.MaxRetries = 1
	bc.Mocap.RetryDelay = conf.Duration(10 * time.Millisecond)
	bc.Mocap.DialTimeout = conf.Duration(100 * time.Millisecond)

	core := session.NewCore(sessiondb.NewDB(db).AutoMigrate(true), &bc)
	t.Cleanup(func() { _ = core.Close(t.Context()) })

	g := gin.New()
	RegisterSession(g, NewSessionAPI(core))
	RegisterReplay(g, NewReplayAPI(&bc, core))
	return g
}

func do(t *testing.T, g http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func TestSessionAndReplayRoutes(t *testing.T) {
	g := newTestRouter(t)

	var begun session.Session
	if code := do(t, g, http.MethodPost, "/sessions", gin.H{"participant_id": "P01", "condition": "vr"}, &begun); code != http.StatusOK {
		t.Fatalf("begin status %d", code)
	}
	if begun.ID == "" || begun.Status != session.StatusActive {
		t.Fatalf("begin %+v", begun)
	}
	if code := do(t, g, http.MethodPost, "/sessions", gin.H{"participant_id": "P02"}, nil); code == http.StatusOK {
		t.Fatal("second begin must fail")
	}

	sample := gin.H{
		"state":     "Navigating",
		"intensity": 0.5,
		"head":      gin.H{"position": []float32{0, 1.7, 0}, "rotation": gin.H{"W": 1, "V": []float32{0, 0, 0}}},
	}
	if code := do(t, g, http.MethodPut, "/sessions/current/sample", sample, nil); code != http.StatusOK {
		t.Fatalf("sample status %d", code)
	}
	for _, ev := range []string{"start", "goal"} {
		if code := do(t, g, http.MethodPost, "/sessions/current/events", gin.H{"event": ev}, nil); code != http.StatusOK {
			t.Fatalf("event status %d", code)
		}
	}

	var st session.StatusOutput
	if code := do(t, g, http.MethodGet, "/sessions/current/status", nil, &st); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if !st.Active || st.Capture.FramesCaptured != 2 || st.Sample.Intensity != 0.5 {
		t.Fatalf("status %+v", st)
	}

	var ended session.Session
	if code := do(t, g, http.MethodPost, "/sessions/current/end", nil, &ended); code != http.StatusOK {
		t.Fatalf("end status %d", code)
	}
	if ended.FramesWritten != 2 || ended.Status != session.StatusCompleted {
		t.Fatalf("ended %+v", ended)
	}

	var list struct {
		Items []session.Session `json:"items"`
		Total int64             `json:"total"`
	}
	if code := do(t, g, http.MethodGet, "/sessions?participant_id=P01&page=1&size=10", nil, &list); code != http.StatusOK {
		t.Fatalf("find status %d", code)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != begun.ID {
		t.Fatalf("list %+v", list)
	}
	if code := do(t, g, http.MethodGet, "/sessions/"+begun.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}

	var summary replaySummary
	if code := do(t, g, http.MethodPost, "/replays", gin.H{"session_id": begun.ID}, &summary); code != http.StatusOK {
		t.Fatalf("load replay status %d", code)
	}
	if summary.PoseFrames != 2 || summary.MotionFrames != 0 || summary.BoneCount != 21 {
		t.Fatalf("summary %+v", summary)
	}

	var state replayStateOutput
	if code := do(t, g, http.MethodGet, "/replays/current/state?t=0", nil, &state); code != http.StatusOK {
		t.Fatalf("state status %d", code)
	}
	if !state.Pose.Valid || state.Motion.Valid {
		t.Fatalf("state %+v", state)
	}

	if code := do(t, g, http.MethodDelete, "/replays/current", nil, nil); code != http.StatusOK {
		t.Fatalf("discard status %d", code)
	}
	if code := do(t, g, http.MethodGet, "/replays/current", nil, nil); code == http.StatusOK {
		t.Fatal("summary after discard must fail")
	}
}

func TestReplayLoadMissingFolder(t *testing.T) {
	g := newTestRouter(t)
	if code := do(t, g, http.MethodPost, "/replays", gin.H{"folder": filepath.Join(t.TempDir(), "nope")}, nil); code == http.StatusOK {
		t.Fatal("loading a missing folder must fail")
	}
	if code := do(t, g, http.MethodPost, "/replays", gin.H{}, nil); code == http.StatusOK {
		t.Fatal("empty request must fail")
	}
}
