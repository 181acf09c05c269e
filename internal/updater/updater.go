// Package updater implements the remote code-replacement capability: fetch
// a new image over the established network association, verify it, and hand
// it to the install hook. The running binary stays untouched until the
// replacement is verified complete.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"watertank_node/internal/logger"
	"watertank_node/internal/models"
)

// Command is the update request carried on the command topic.
type Command struct {
	Action string `json:"action"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// ErrNotUpdateCommand marks command payloads that are not update requests;
// the dispatcher ignores them.
var ErrNotUpdateCommand = errors.New("not an update command")

// ParseCommand decodes a command-topic payload into an update request.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command payload: %w", err)
	}
	if cmd.Action != "update" {
		return Command{}, ErrNotUpdateCommand
	}
	if cmd.URL == "" || cmd.SHA256 == "" {
		return Command{}, errors.New("update command missing url or sha256")
	}
	return cmd, nil
}

// Options fixes staging and install behavior.
type Options struct {
	StagingPath     string
	InstallCmd      string
	DownloadTimeout time.Duration
}

const (
	copyChunk        = 256 << 10
	progressStride   = 1 << 20 // one progress event per MiB
	installCmdBudget = 30 * time.Second
)

// Updater downloads and verifies replacement images. Apply runs inside the
// control loop's one permitted out-of-band suspension, so it keeps the
// watchdog fed through the injected kick while bytes stream in.
type Updater struct {
	http *resty.Client
	opt  Options
	emit func(models.LoopEvent)
	kick func()
	log  *logger.Logger
}

func New(opt Options, emit func(models.LoopEvent), kick func(), log *logger.Logger) *Updater {
	return &Updater{
		http: resty.New().SetTimeout(opt.DownloadTimeout),
		opt:  opt,
		emit: emit,
		kick: kick,
		log:  log.Component("updater"),
	}
}

// Apply stages the image, verifies its checksum, and runs the install hook.
// It returns the staged image size; the caller records the outcome. Any
// failure leaves the staging area cleaned and the running image intact.
func (u *Updater) Apply(ctx context.Context, cmd Command) (int64, error) {
	u.log.Infow("update started", "url", cmd.URL)

	written, err := u.download(ctx, cmd.URL)
	if err != nil {
		err = fmt.Errorf("download: %w", err)
		u.fail(err)
		return 0, err
	}

	if err := u.verify(cmd.SHA256); err != nil {
		u.fail(err)
		return 0, err
	}
	u.log.Infow("image verified", "bytes", written, "sha256", cmd.SHA256)

	if err := u.install(ctx); err != nil {
		err = fmt.Errorf("install: %w", err)
		u.fail(err)
		return 0, err
	}

	return written, nil
}

func (u *Updater) download(ctx context.Context, url string) (int64, error) {
	resp, err := u.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("image fetch returned status %d", resp.StatusCode())
	}

	out, err := os.OpenFile(u.opt.StagingPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open staging file: %w", err)
	}
	defer out.Close()

	var written, lastProgress int64
	buf := make([]byte, copyChunk)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write staging file: %w", werr)
			}
			written += int64(n)
			u.kick()
			if written-lastProgress >= progressStride {
				lastProgress = written
				u.send(models.LoopEvent{Kind: models.LoopUpdateProgress, Bytes: written})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read image stream: %w", rerr)
		}
	}
	return written, nil
}

func (u *Updater) verify(wantHex string) error {
	f, err := os.Open(u.opt.StagingPath)
	if err != nil {
		return fmt.Errorf("open staged image: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash staged image: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, wantHex) {
		return fmt.Errorf("checksum mismatch: staged %s, want %s", got, wantHex)
	}
	return nil
}

// install hands the verified image to the configured hook (typically a
// script that swaps the binary and restarts the service). With no hook
// configured the staged image is left in place for an external supervisor.
func (u *Updater) install(ctx context.Context) error {
	if u.opt.InstallCmd == "" {
		return nil
	}
	fields := strings.Fields(u.opt.InstallCmd)

	ctx, cancel := context.WithTimeout(ctx, installCmdBudget)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Env = append(os.Environ(), "TANKNODE_STAGED_IMAGE="+u.opt.StagingPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("hook %q: %w (output: %s)", u.opt.InstallCmd, err, out)
	}
	return nil
}

// fail cleans the staging area. The previously running image is never
// touched on a failed update.
func (u *Updater) fail(err error) {
	u.log.Errorw("update failed", "err", err)
	if rmErr := os.Remove(u.opt.StagingPath); rmErr != nil && !os.IsNotExist(rmErr) {
		u.log.Warnw("staging cleanup failed", "err", rmErr)
	}
}

func (u *Updater) send(ev models.LoopEvent) {
	if u.emit != nil {
		u.emit(ev)
	}
}
