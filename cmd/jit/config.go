// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/cmd/genericconf"
	"github.com/offchainlabs/gojit/cmd/util/confighelpers"
)

type JitConfig struct {
	Conf             genericconf.ConfConfig `koanf:"conf"`
	Binary           string                 `koanf:"binary"`
	Cranelift        bool                   `koanf:"cranelift"`
	MachineCachePath string                 `koanf:"machine-cache-path"`

	Forks       bool `koanf:"forks"`
	SessionPort int  `koanf:"session-port"`

	InboxPosition         uint64   `koanf:"inbox-position"`
	DelayedInboxPosition  uint64   `koanf:"delayed-inbox-position"`
	PositionWithinMessage uint64   `koanf:"position-within-message"`
	LastBlockHash         string   `koanf:"last-block-hash"`
	LastSendRoot          string   `koanf:"last-send-root"`
	Inbox                 []string `koanf:"inbox"`
	DelayedInbox          []string `koanf:"delayed-inbox"`
	Preimages             string   `koanf:"preimages"`

	LogLevel int    `koanf:"log-level"`
	LogType  string `koanf:"log-type"`

	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
}

var JitConfigDefault = JitConfig{
	Conf:          genericconf.ConfConfigDefault,
	LogLevel:      int(log.LvlInfo),
	LogType:       "plaintext",
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
}

func JitConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("binary", JitConfigDefault.Binary, "path to the replay binary, a go js/wasm build")
	f.Bool("cranelift", JitConfigDefault.Cranelift, "compile the replay binary instead of interpreting it (the name is historical)")
	f.String("machine-cache-path", JitConfigDefault.MachineCachePath, "directory to keep compiled machine artifacts in (empty to recompile every start)")
	f.Bool("forks", JitConfigDefault.Forks, "dispatch a session worker for every port line arriving on stdin")
	f.Int("session-port", JitConfigDefault.SessionPort, "loopback port of the controller to bootstrap the session from")
	f.Uint64("inbox-position", JitConfigDefault.InboxPosition, "batch number of the first sequencer message")
	f.Uint64("delayed-inbox-position", JitConfigDefault.DelayedInboxPosition, "index of the first delayed inbox message")
	f.Uint64("position-within-message", JitConfigDefault.PositionWithinMessage, "position to resume replay at within the first batch")
	f.String("last-block-hash", JitConfigDefault.LastBlockHash, "hex encoded hash of the last block")
	f.String("last-send-root", JitConfigDefault.LastSendRoot, "hex encoded root of the last send accumulator")
	f.StringSlice("inbox", JitConfigDefault.Inbox, "binary files to load the sequencer inbox from, one message each")
	f.StringSlice("delayed-inbox", JitConfigDefault.DelayedInbox, "binary files to load the delayed inbox from, one message each")
	f.String("preimages", JitConfigDefault.Preimages, "file of length prefixed keccak preimages")
	f.Int("log-level", JitConfigDefault.LogLevel, "log level")
	f.String("log-type", JitConfigDefault.LogType, "log type (plaintext or json)")
	f.Bool("metrics", JitConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
}

func ParseJit(args []string) (*JitConfig, error) {
	f := flag.NewFlagSet("jit", flag.ContinueOnError)
	JitConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	if err := confighelpers.ApplyOverrides(f, k); err != nil {
		return nil, err
	}

	var config JitConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.Conf.Dump {
		if err := confighelpers.DumpConfig(k, map[string]interface{}{}); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *JitConfig) Validate() error {
	if c.Binary == "" {
		return errors.New("--binary is required")
	}
	if c.Forks && c.SessionPort != 0 {
		return errors.New("a dispatcher does not serve sessions itself, drop either --forks or --session-port")
	}
	return nil
}
