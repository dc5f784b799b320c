package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const pairingFile = "pairing.json"

// Pairing records which operator linked the bot to this session directory.
type Pairing struct {
	OperatorID  int64     `json:"operator_id"`
	Operator    string    `json:"operator,omitempty"`
	BotUsername string    `json:"bot_username"`
	PairedAt    time.Time `json:"paired_at"`
}

// errPairingCorrupt means pairing.json exists but cannot be trusted.
var errPairingCorrupt = errors.New("telegram: pairing file corrupt")

// loadPairing returns (nil, nil) when the directory has never been paired.
func loadPairing(dir string) (*Pairing, error) {
	b, err := os.ReadFile(filepath.Join(dir, pairingFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPairingCorrupt, err)
	}
	var p Pairing
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errPairingCorrupt, err)
	}
	if p.OperatorID == 0 {
		return nil, fmt.Errorf("%w: missing operator id", errPairingCorrupt)
	}
	return &p, nil
}

// savePairing writes atomically so a crash never leaves a half-written file.
func savePairing(dir string, p Pairing) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, pairingFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, pairingFile))
}

// newPairingCode is a one-time /start payload. Deep-link payloads allow
// only [A-Za-z0-9_-], so the uuid dashes are dropped.
func newPairingCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func deepLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
}
