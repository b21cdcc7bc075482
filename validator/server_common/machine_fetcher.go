package server_common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// MachineFetcher downloads machine artifacts into the locator's
// directory tree, so a validator can pull the replay binary for a new
// module root instead of shipping it by hand.
type MachineFetcher struct {
	locator  *MachineLocator
	client   *grab.Client
	attempts int
	poll     time.Duration
}

func NewMachineFetcher(locator *MachineLocator) *MachineFetcher {
	return &MachineFetcher{
		locator:  locator,
		client:   grab.NewClient(),
		attempts: 3,
		poll:     5 * time.Second,
	}
}

// Fetch downloads the artifact at url into the directory for the given
// module root and returns its path. file: urls resolve in place.
func (f *MachineFetcher) Fetch(ctx context.Context, url string, moduleRoot common.Hash, name string) (string, error) {
	if strings.HasPrefix(url, "file:") {
		return strings.TrimPrefix(url, "file:"), nil
	}
	destDir := f.locator.GetMachinePath(moduleRoot)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, name)

	progress := time.NewTicker(time.Second)
	defer progress.Stop()
	for attempt := 1; ; attempt++ {
		req, err := grab.NewRequest(dest, url)
		if err != nil {
			return "", err
		}
		resp := f.client.Do(req.WithContext(ctx))
	transfer:
		for {
			select {
			case <-progress.C:
				log.Info("downloading machine", "url", url,
					"bytes", resp.BytesComplete(), "total", resp.Size(),
					"done", fmt.Sprintf("%.2f%%", resp.Progress()*100))
			case <-resp.Done:
				if err := resp.Err(); err != nil {
					log.Warn("machine download failed", "url", url, "attempt", attempt, "err", err)
					break transfer
				}
				log.Info("machine download done", "filename", resp.Filename, "duration", resp.Duration())
				return resp.Filename, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if attempt >= f.attempts {
			return "", fmt.Errorf("failed to download machine from %v after %v attempts", url, attempt)
		}
		select {
		case <-time.After(f.poll):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
