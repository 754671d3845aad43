package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/torantis/torenms/cfg"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

// seedFile holds the documents the center needs before the first device report.
type seedFile struct {
	App    store.Document `yaml:"app"`
	Device store.Document `yaml:"device"`
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Write the app and device documents from a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close() // nolint

			s, err := readSeed(f)
			if err != nil {
				return err
			}

			conf, err := cfg.NewConfig()
			if err != nil {
				return fmt.Errorf("NewConfig(): %s", err)
			}
			l := log.New(conf.Service.AppID, conf.Service.LogLevel)
			defer l.Flush() // nolint

			g, _, closeStore, err := newStore(conf, l)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := applySeed(cmd.Context(), g, s, conf.Service.DeviceID); err != nil {
				return err
			}
			l.Infof("seeded %s/%s and %s/%s", store.App, model.AppID, store.Devices, conf.Service.DeviceID)
			return nil
		},
	}
}

// readSeed parses a seed file and checks both documents against their schemas.
func readSeed(r io.Reader) (*seedFile, error) {
	var s seedFile
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("Decode(): %s", err)
	}

	var err error
	if s.App, err = store.Normalize(s.App); err != nil {
		return nil, err
	}
	if s.Device, err = store.Normalize(s.Device); err != nil {
		return nil, err
	}
	if _, err := model.DecodeApp(s.App); err != nil {
		return nil, err
	}
	if _, err := model.DecodeDevice(s.Device); err != nil {
		return nil, err
	}
	return &s, nil
}

func applySeed(ctx context.Context, g store.Gateway, s *seedFile, deviceID string) error {
	if s.App != nil {
		app := store.Merge(s.App, store.Document{"appId": model.AppID})
		if err := g.Set(ctx, store.App, model.AppID, app); err != nil {
			return err
		}
	}
	if s.Device != nil {
		dev := store.Merge(s.Device, store.Document{"deviceId": deviceID})
		if err := g.Set(ctx, store.Devices, deviceID, dev); err != nil {
			return err
		}
	}
	return nil
}
