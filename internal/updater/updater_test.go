package updater

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"watertank_node/internal/logger"
	"watertank_node/internal/models"
)

func TestParseCommand(t *testing.T) {
	t.Run("valid update command", func(t *testing.T) {
		cmd, err := ParseCommand([]byte(`{"action":"update","url":"http://host/img","sha256":"abc"}`))
		if err != nil {
			t.Fatalf("ParseCommand() error = %v", err)
		}
		if cmd.URL != "http://host/img" || cmd.SHA256 != "abc" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	})

	t.Run("other actions are ignored", func(t *testing.T) {
		_, err := ParseCommand([]byte(`{"action":"reboot"}`))
		if !errors.Is(err, ErrNotUpdateCommand) {
			t.Fatalf("got %v, want ErrNotUpdateCommand", err)
		}
	})

	t.Run("missing checksum is rejected", func(t *testing.T) {
		if _, err := ParseCommand([]byte(`{"action":"update","url":"http://host/img"}`)); err == nil {
			t.Fatalf("expected an error for a command without sha256")
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		if _, err := ParseCommand([]byte(`{not json`)); err == nil {
			t.Fatalf("expected a decode error")
		}
	})
}

type updaterHarness struct {
	u       *Updater
	events  []models.LoopEvent
	kicks   int
	staging string
}

func newUpdaterHarness(t *testing.T, installCmd string) *updaterHarness {
	t.Helper()
	h := &updaterHarness{staging: filepath.Join(t.TempDir(), "update.staged")}
	h.u = New(Options{
		StagingPath:     h.staging,
		InstallCmd:      installCmd,
		DownloadTimeout: 5 * time.Second,
	},
		func(ev models.LoopEvent) { h.events = append(h.events, ev) },
		func() { h.kicks++ },
		logger.Get(logger.ErrorLevel))
	return h
}

func (h *updaterHarness) progressEvents() int {
	var n int
	for _, ev := range h.events {
		if ev.Kind == models.LoopUpdateProgress {
			n++
		}
	}
	return n
}

func serveImage(t *testing.T, img []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApply_StagesAndVerifiesImage(t *testing.T) {
	img := bytes.Repeat([]byte{0xA5}, 3<<20) // 3 MiB to exercise progress
	sum := sha256.Sum256(img)
	srv := serveImage(t, img)

	h := newUpdaterHarness(t, "")
	written, err := h.u.Apply(context.Background(), Command{
		Action: "update",
		URL:    srv.URL,
		SHA256: hex.EncodeToString(sum[:]),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if written != int64(len(img)) {
		t.Fatalf("written = %d, want %d", written, len(img))
	}

	staged, err := os.ReadFile(h.staging)
	if err != nil {
		t.Fatalf("read staged image: %v", err)
	}
	if !bytes.Equal(staged, img) {
		t.Fatalf("staged image differs from served image")
	}

	if h.kicks == 0 {
		t.Fatalf("watchdog must be fed during the download")
	}
	if h.progressEvents() == 0 {
		t.Fatalf("expected progress events for a multi-MiB image")
	}
}

func TestApply_ChecksumMismatchCleansStaging(t *testing.T) {
	srv := serveImage(t, []byte("not the image you were promised"))

	h := newUpdaterHarness(t, "")
	_, err := h.u.Apply(context.Background(), Command{
		Action: "update",
		URL:    srv.URL,
		SHA256: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}

	if _, statErr := os.Stat(h.staging); !os.IsNotExist(statErr) {
		t.Fatalf("staging file must be removed after a failed update")
	}
}

func TestApply_HTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	h := newUpdaterHarness(t, "")
	if _, err := h.u.Apply(context.Background(), Command{Action: "update", URL: srv.URL, SHA256: "abc"}); err == nil {
		t.Fatalf("expected an error for a 404 image fetch")
	}
}

func TestApply_InstallHookFailureFails(t *testing.T) {
	img := []byte("image payload")
	sum := sha256.Sum256(img)
	srv := serveImage(t, img)

	h := newUpdaterHarness(t, "false") // /usr/bin/false: hook always fails
	_, err := h.u.Apply(context.Background(), Command{
		Action: "update",
		URL:    srv.URL,
		SHA256: hex.EncodeToString(sum[:]),
	})
	if err == nil {
		t.Fatalf("expected install hook failure")
	}
}
