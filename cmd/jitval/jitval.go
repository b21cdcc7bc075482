// The standalone validation worker. It consumes validation requests
// from redis streams, replays them on jit machines, and posts the
// resulting global states back for the requesting node to pick up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/cmd/genericconf"
	"github.com/offchainlabs/gojit/cmd/util/confighelpers"
	"github.com/offchainlabs/gojit/validator/server_api"
	"github.com/offchainlabs/gojit/validator/server_common"
	"github.com/offchainlabs/gojit/validator/server_jit"
)

func printSampleUsage(name string) {
	fmt.Printf("Sample usage: %s --validation.redis.redis-url redis://... \n", name)
}

func main() {
	os.Exit(mainImpl())
}

// Returns the exit code
func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	args := os.Args[1:]
	config, err := ParseValidationWorker(args)
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}

	pathResolver := genericconf.DefaultPathResolver(config.Workdir)
	err = genericconf.InitLog(config.LogType, log.Lvl(config.LogLevel), &config.FileLogging, pathResolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}

	vcsRevision, vcsTime := confighelpers.GetVersion()
	log.Info("Running validation worker", "revision", vcsRevision, "vcs.time", vcsTime)

	if config.Metrics {
		go metrics.CollectProcessMetrics(config.MetricsServer.UpdateInterval)

		if config.MetricsServer.Addr != "" {
			address := fmt.Sprintf("%v:%v", config.MetricsServer.Addr, config.MetricsServer.Port)
			if config.MetricsServer.Pprof {
				genericconf.StartPprof(address)
			} else {
				exp.Setup(address)
			}
		}
	} else if config.MetricsServer.Pprof {
		flag.Usage()
		log.Error("--metrics must be enabled in order to use pprof with the metrics server")
		return 1
	}

	redisConfig := &config.Validation.Redis
	if !redisConfig.Enabled() {
		flag.Usage()
		log.Error("a redis url is required, the redis streams are the only way work arrives")
		return 1
	}

	fatalErrChan := make(chan error, 10)

	locator, err := server_common.NewMachineLocator(config.Validation.Wasm.RootPath)
	if err != nil {
		log.Error("error finding the machines directory", "err", err)
		return 1
	}
	if len(redisConfig.ModuleRoots) == 0 {
		redisConfig.ModuleRoots = []string{locator.LatestWasmModuleRoot().Hex()}
	}
	if config.Validation.Wasm.DownloadURL != "" {
		if err := downloadMissingMachines(ctx, locator, config.Validation.Wasm.DownloadURL, redisConfig.ModuleRoots); err != nil {
			log.Error("error downloading replay binaries", "err", err)
			return 1
		}
	}

	spawner, err := server_jit.NewJitSpawner(locator, func() *server_jit.JitSpawnerConfig { return &config.Validation.Jit }, fatalErrChan)
	if err != nil {
		log.Error("error creating the jit spawner", "err", err)
		return 1
	}
	defer spawner.Stop()

	validationServer, err := server_api.NewRedisValidationServer(redisConfig, spawner)
	if err != nil {
		log.Error("error initializing the redis validation server", "err", err)
		return 1
	}
	validationServer.Start(ctx)
	defer validationServer.StopAndWait()

	log.Info("validation worker started", "moduleRoots", redisConfig.ModuleRoots, "room", spawner.Room())

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-fatalErrChan:
		log.Error("shutting down due to fatal error", "err", err)
		defer log.Error("shut down due to fatal error", "err", err)
		exitCode = 1
	case <-sigint:
		log.Info("shutting down because of sigint")
	}

	// cause future ctrl+c's to panic
	close(sigint)

	return exitCode
}

// downloadMissingMachines pulls the replay binary for every module root
// the worker will serve that is not already in the machines directory.
func downloadMissingMachines(ctx context.Context, locator *server_common.MachineLocator, baseURL string, moduleRoots []string) error {
	fetcher := server_common.NewMachineFetcher(locator)
	binName := server_jit.DefaultJitMachineConfig.ProverBinPath
	for _, rootHex := range moduleRoots {
		moduleRoot := common.HexToHash(rootHex)
		binPath := filepath.Join(locator.GetMachinePath(moduleRoot), binName)
		if _, err := os.Stat(binPath); err == nil {
			continue
		}
		url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(baseURL, "/"), moduleRoot.Hex(), binName)
		log.Info("downloading replay binary", "moduleRoot", moduleRoot, "url", url)
		if _, err := fetcher.Fetch(ctx, url, moduleRoot, binName); err != nil {
			return err
		}
	}
	return nil
}
