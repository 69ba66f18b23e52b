// Package serverid assigns and persists the node's stable identity,
// used as the id field of Peer Table entries (spec.md §3) and as the
// sync_src_id a peer reports to the tracker. Generated once with
// github.com/google/uuid and cached on disk so it survives restarts —
// the tracker otherwise has no way to recognize a restarted node as the
// same peer.
package serverid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

const fileName = "server_id.dat"

// LoadOrCreate reads the persisted server id under baseDir, generating
// and atomically persisting a new one on first run.
func LoadOrCreate(baseDir string) (string, error) {
	path := filepath.Join(baseDir, fileName)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("serverid: read %s: %w", path, err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("serverid: create base dir: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("serverid: persist %s: %w", path, err)
	}
	return id, nil
}
