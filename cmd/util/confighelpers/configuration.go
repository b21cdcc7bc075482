// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package confighelpers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/cmd/genericconf"
)

// set through ldflags on release builds
var version = ""
var datetime = ""
var modified = ""

func GetVersion() (string, string) {
	return genericconf.GetVersion(version, datetime, modified)
}

var ErrVersion = errors.New("configuration: version requested")

func PrintErrorAndExit(err error, usage func(string)) {
	vcsRevision, vcsTime := GetVersion()
	if err != nil && errors.Is(err, ErrVersion) {
		fmt.Printf("Version: %v, time: %v\n", vcsRevision, vcsTime)
		// Already printed version, just exit
		os.Exit(0)
	}
	usage(os.Args[0])
	if err != nil {
		fmt.Printf("%s\n", err.Error())
		os.Exit(1)
	}
}

func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return nil, ErrVersion
		}
	}
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	if f.NArg() != 0 {
		// Unexpected number of parameters
		return nil, errors.New("unexpected number of parameters")
	}

	return koanf.New("."), nil
}

func ApplyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Apply command line options and environment variables
	if err := applyOverrides(f, k); err != nil {
		return err
	}

	// Config files override the defaults but not the command line
	configFiles := k.Strings("conf.file")
	for _, configFile := range configFiles {
		if len(configFile) > 0 {
			if err := k.Load(file.Provider(configFile), json.Parser()); err != nil {
				return fmt.Errorf("error loading config file: %w", err)
			}

			if err := applyOverrides(f, k); err != nil {
				return err
			}
		}
	}

	// Config string overrides any config file
	configString := k.String("conf.string")
	if len(configString) > 0 {
		if err := k.Load(rawbytes.Provider([]byte(configString)), json.Parser()); err != nil {
			return fmt.Errorf("error loading config string: %w", err)
		}

		if err := applyOverrides(f, k); err != nil {
			return err
		}
	}

	return nil
}

// applyOverrides reasserts the higher-priority sources over whatever a
// config file or string just loaded.
func applyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Command line overrides config file or config string
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command line options: %w", err)
	}

	// Environment variables override config files or command line options
	if err := loadEnvironmentVariables(k); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	return nil
}

func loadEnvironmentVariables(k *koanf.Koanf) error {
	envPrefix := k.String("conf.env-prefix")
	if len(envPrefix) != 0 {
		return k.Load(env.Provider(envPrefix+"_", ".", func(key string) string {
			// FOO__BAR -> foo-bar to handle dash in config names
			key = strings.ReplaceAll(strings.ToLower(
				strings.TrimPrefix(key, envPrefix+"_")), "__", "-")
			return strings.ReplaceAll(key, "_", ".")
		}), nil)
	}

	return nil
}

func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,

		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc()),
		Metadata:         nil,
		Result:           config,
		WeaklyTypedInput: true,
	}
	err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{DecoderConfig: &decoderConfig})
	if err != nil {
		return err
	}

	return nil
}

func DumpConfig(k *koanf.Koanf, extraOverrideFields map[string]interface{}) error {
	overrideFields := map[string]interface{}{"conf.dump": false}

	for key, value := range extraOverrideFields {
		overrideFields[key] = value
	}

	err := k.Load(confmap.Provider(overrideFields, "."), nil)
	if err != nil {
		return fmt.Errorf("error removing extra parameters before dump: %w", err)
	}

	c, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("error marshalling config file to JSON: %w", err)
	}

	fmt.Println(string(c))
	os.Exit(0)
	return nil
}
