package server_common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MachineLocator finds the directory tree holding replay binaries. Each
// module root gets a subdirectory named after its hash, with "latest"
// pointing at the root recorded in latest/module-root.txt.
type MachineLocator struct {
	rootPath string
	latest   common.Hash
}

var ErrMachineNotFound = errors.New("machine not found")

func NewMachineLocator(rootPath string) (*MachineLocator, error) {
	var places []string

	if rootPath != "" {
		places = append(places, rootPath)
	} else {
		// Check the working directory: ./machines and ./target/machines
		workDir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		places = append(places, filepath.Join(workDir, "machines"))
		places = append(places, filepath.Join(workDir, "target", "machines"))

		// Check above the executable: <binary> => ../../machines
		execfile, err := os.Executable()
		if err != nil {
			return nil, err
		}
		places = append(places, filepath.Join(filepath.Dir(filepath.Dir(execfile)), "machines"))
	}

	for _, place := range places {
		if _, err := os.Stat(place); err != nil {
			continue
		}
		var latest common.Hash
		fileBytes, err := os.ReadFile(filepath.Join(place, "latest", "module-root.txt"))
		if err == nil {
			latest = common.HexToHash(strings.TrimSpace(string(fileBytes)))
		}
		return &MachineLocator{place, latest}, nil
	}
	return nil, ErrMachineNotFound
}

func (l MachineLocator) GetMachinePath(moduleRoot common.Hash) string {
	if moduleRoot == (common.Hash{}) || moduleRoot == l.latest {
		return filepath.Join(l.rootPath, "latest")
	}
	return filepath.Join(l.rootPath, moduleRoot.String())
}

func (l MachineLocator) LatestWasmModuleRoot() common.Hash {
	return l.latest
}

func (l MachineLocator) RootPath() string {
	return l.rootPath
}
