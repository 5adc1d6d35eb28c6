package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// USB result statuses written by the copy script.
const (
	USBSuccess = "success"
	USBError   = "error"
)

// USBResult is the JSON the copy script leaves in the result file, or a
// synthesized error when the script could not finish.
type USBResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	USBLabel string `json:"usb_label,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     string `json:"size,omitempty"`
}

// OK reports whether the copy succeeded.
func (r USBResult) OK() bool { return r.Status == USBSuccess }

func usbError(msg string) USBResult {
	return USBResult{Status: USBError, Message: msg}
}

// USBDetected reports whether the drive watcher has left its marker.
func (m *Monitor) USBDetected() bool {
	_, err := os.Stat(m.cfg.MarkerPath)
	return err == nil
}

// HandleUSB runs the copy script when a drive has been detected. The
// second return is false when there was no marker and nothing ran. The
// marker and the result file are removed whatever the outcome, so one
// insertion is handled once.
func (m *Monitor) HandleUSB(ctx context.Context) (USBResult, bool) {
	if !m.USBDetected() {
		return USBResult{}, false
	}
	defer m.remove(m.cfg.MarkerPath)
	defer m.remove(m.cfg.ResultPath)

	m.logger.Info("USB drive detected, starting backup copy", "script", m.cfg.ScriptPath)

	if _, err := os.Stat(m.cfg.ScriptPath); err == nil {
		if res, failed := m.runScript(ctx); failed {
			return res, true
		}
	} else {
		m.logger.Warn("USB backup script missing, reading result file only", "script", m.cfg.ScriptPath)
	}

	data, err := os.ReadFile(m.cfg.ResultPath)
	if err != nil {
		m.logger.Error("USB backup left no result", "path", m.cfg.ResultPath, "error", err)
		return usbError("USB backup produced no result"), true
	}
	var res USBResult
	if err := json.Unmarshal(data, &res); err != nil {
		m.logger.Error("USB backup result unreadable", "error", err)
		return usbError(fmt.Sprintf("unreadable USB backup result: %v", err)), true
	}
	if res.Status == "" {
		res.Status = USBError
	}

	if res.OK() {
		if err := m.markLatestCopied(ctx); err != nil {
			m.logger.Error("failed to record USB copy", "error", err)
		}
		m.logger.Info("USB backup complete", "label", res.USBLabel, "file", res.Filename)
	} else {
		m.logger.Warn("USB backup reported failure", "message", res.Message)
	}
	return res, true
}

// runScript executes the copy script under the configured timeout. It
// returns failed=true with an error result when the script did not exit
// cleanly.
func (m *Monitor) runScript(ctx context.Context) (USBResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.cfg.ScriptPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Minute

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.logger.Error("USB backup timed out", "timeout", m.cfg.Timeout)
		return usbError("USB backup timed out"), true
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		m.logger.Error("USB backup failed", "error", err, "stderr", msg)
		if msg == "" {
			msg = "USB backup failed"
		}
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return usbError(msg), true
	}
	return USBResult{}, false
}

func (m *Monitor) markLatestCopied(ctx context.Context) error {
	latest, err := m.store.LatestSuccessfulBackup(ctx)
	if err != nil {
		return fmt.Errorf("latest backup: %w", err)
	}
	return m.store.MarkUSBCopied(ctx, latest.ID, m.now())
}

func (m *Monitor) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove USB file", "path", path, "error", err)
	}
}
