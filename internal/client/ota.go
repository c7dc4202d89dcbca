package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OTA download tuning.
const (
	// otaDownloadTimeout bounds the whole firmware download.
	otaDownloadTimeout = 5 * time.Minute

	// otaReconnectAttempts and otaReconnectDelay govern the quick reconnect
	// pass after a download, so the final status can still be reported when
	// the broker session timed out during the blocking transfer.
	otaReconnectAttempts = 3
	otaReconnectDelay    = time.Second
)

// Updater applies a verified firmware image. Implementations typically
// stage the image and restart the service; Apply only returns on failure or
// when the image was staged without an immediate restart.
type Updater interface {
	Apply(ctx context.Context, image io.Reader, size int64) error
}

// otaCommand is the inbound firmware update request.
type otaCommand struct {
	URL      string `json:"url"`
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	UpdateID string `json:"updateId"`
}

// otaStatus is the outbound update progress report, published retained so
// the server sees the final state even if it subscribes late.
type otaStatus struct {
	UpdateID string `json:"updateId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	Version  string `json:"version"`
}

// handleCloudOTA executes a firmware update command. The download blocks
// the loop for its duration; protocol traffic resumes afterwards. Progress
// is reported at the milestones (downloading, completed/failed) rather than
// streamed, matching what the server consumes.
func (c *Client) handleCloudOTA(payload []byte) {
	var cmd otaCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.logger.Warn("ota command parse failed", "error", err)
		return
	}
	if cmd.URL == "" || cmd.UpdateID == "" {
		c.logger.Warn("ota command missing required fields")
		return
	}
	if c.updater == nil {
		c.logger.Warn("ota command received but no updater configured")
		return
	}

	c.logger.Info("ota update starting", "update_id", cmd.UpdateID, "url", cmd.URL, "version", cmd.Version)
	c.publishOTAStatus(cmd.UpdateID, "downloading", 0, "")

	if err := c.runOTA(cmd); err != nil {
		c.setError(fmt.Errorf("%w: %w", ErrOTAFailed, err))
		c.logger.Error("ota update failed", "update_id", cmd.UpdateID, "error", err)
		c.ensureBrokerForOTA()
		c.publishOTAStatus(cmd.UpdateID, "failed", 0, err.Error())
		return
	}

	c.logger.Info("ota update applied", "update_id", cmd.UpdateID, "version", cmd.Version)
	c.ensureBrokerForOTA()
	c.publishOTAStatus(cmd.UpdateID, "completed", 100, "")
}

// runOTA downloads the image to a temporary file, verifies its checksum,
// and hands it to the updater.
func (c *Client) runOTA(cmd otaCommand) error {
	ctx, cancel := context.WithTimeout(context.Background(), otaDownloadTimeout)
	defer cancel()

	path, size, err := c.downloadImage(ctx, cmd)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening staged image: %w", err)
	}
	defer f.Close()

	return c.updater.Apply(ctx, f, size)
}

// downloadImage fetches the firmware to a temporary file, hashing as it
// streams. Returns the staged path and byte count.
func (c *Client) downloadImage(ctx context.Context, cmd otaCommand) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cmd.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("downloading firmware: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("downloading firmware: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "vwire-ota-*.bin")
	if err != nil {
		return "", 0, fmt.Errorf("staging firmware: %w", err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("downloading firmware: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("staging firmware: %w", closeErr)
	}

	if cmd.Size > 0 && size != cmd.Size {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("size mismatch: got %d bytes, expected %d", size, cmd.Size)
	}

	if cmd.Checksum != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, cmd.Checksum) {
			os.Remove(tmp.Name())
			return "", 0, fmt.Errorf("checksum mismatch: got %s, expected %s", got, cmd.Checksum)
		}
	}

	return tmp.Name(), size, nil
}

// ensureBrokerForOTA re-establishes the broker session if the blocking
// download outlived the keepalive. A few quick attempts; if they all fail
// the status report is lost, which the server tolerates.
func (c *Client) ensureBrokerForOTA() {
	if c.transport.Connected() {
		return
	}

	c.logger.Warn("broker session lost during ota, reconnecting")
	for i := 0; i < otaReconnectAttempts; i++ {
		if err := c.connectBroker(); err == nil {
			return
		}
		time.Sleep(otaReconnectDelay)
	}
	c.logger.Error("broker reconnect failed, ota status may not be reported")
}

// publishOTAStatus reports update progress on the ota_status topic.
func (c *Client) publishOTAStatus(updateID, status string, progress int, errMsg string) {
	if !c.transport.Connected() {
		return
	}

	body, err := json.Marshal(otaStatus{
		UpdateID: updateID,
		Status:   status,
		Progress: progress,
		Error:    errMsg,
		Version:  c.settings.Firmware,
	})
	if err != nil {
		c.logger.Error("encoding ota status", "error", err)
		return
	}

	if err := c.transport.Publish(c.topics.OTAStatus(), body, 0, true); err != nil {
		c.logger.Warn("ota status publish failed", "error", err)
	}
}
