package main

import (
	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/cmd/genericconf"
	"github.com/offchainlabs/gojit/cmd/util/confighelpers"
	"github.com/offchainlabs/gojit/validator/server_api"
	"github.com/offchainlabs/gojit/validator/server_jit"
)

type ValidationWorkerConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf"`
	Validation    ValidationConfig                `koanf:"validation"`
	LogLevel      int                             `koanf:"log-level"`
	LogType       string                          `koanf:"log-type"`
	FileLogging   genericconf.FileLoggingConfig   `koanf:"file-logging"`
	Workdir       string                          `koanf:"workdir"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
}

var ValidationWorkerConfigDefault = ValidationWorkerConfig{
	Conf:          genericconf.ConfConfigDefault,
	Validation:    ValidationConfigDefault,
	LogLevel:      int(log.LvlInfo),
	LogType:       "plaintext",
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	Workdir:       "",
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
}

func ValidationWorkerConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	ValidationConfigAddOptions("validation", f)
	f.Int("log-level", ValidationWorkerConfigDefault.LogLevel, "log level")
	f.String("log-type", ValidationWorkerConfigDefault.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	f.String("workdir", ValidationWorkerConfigDefault.Workdir, "directory relative paths are resolved against")
	f.Bool("metrics", ValidationWorkerConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
}

type ValidationConfig struct {
	Jit   server_jit.JitSpawnerConfig            `koanf:"jit"`
	Wasm  WasmConfig                             `koanf:"wasm"`
	Redis server_api.RedisValidationServerConfig `koanf:"redis"`
}

var ValidationConfigDefault = ValidationConfig{
	Jit:   server_jit.DefaultJitSpawnerConfig,
	Wasm:  DefaultWasmConfig,
	Redis: server_api.DefaultRedisValidationServerConfig,
}

func ValidationConfigAddOptions(prefix string, f *flag.FlagSet) {
	server_jit.JitSpawnerConfigAddOptions(prefix+".jit", f)
	WasmConfigAddOptions(prefix+".wasm", f)
	server_api.RedisValidationServerConfigAddOptions(prefix+".redis", f)
}

type WasmConfig struct {
	RootPath    string `koanf:"root-path"`
	DownloadURL string `koanf:"download-url"`
}

var DefaultWasmConfig = WasmConfig{
	RootPath:    "",
	DownloadURL: "",
}

func WasmConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".root-path", DefaultWasmConfig.RootPath, "path to the machines directory, empty to search the usual locations")
	f.String(prefix+".download-url", DefaultWasmConfig.DownloadURL, "base url to download replay binaries for missing module roots from (empty to require local machines)")
}

func ParseValidationWorker(args []string) (*ValidationWorkerConfig, error) {
	f := flag.NewFlagSet("jitval", flag.ContinueOnError)
	ValidationWorkerConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	if err := confighelpers.ApplyOverrides(f, k); err != nil {
		return nil, err
	}

	var config ValidationWorkerConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.Conf.Dump {
		if err := confighelpers.DumpConfig(k, map[string]interface{}{
			"validation.redis.redis-url": "",
		}); err != nil {
			return nil, err
		}
	}
	return &config, nil
}
