package main

import (
	"github.com/pkg/errors"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-vfsswitch/vfsswitch"
	"github.com/go-vfsswitch/vfsswitch/internal/config"
	"github.com/go-vfsswitch/vfsswitch/log"
	vfslogrus "github.com/go-vfsswitch/vfsswitch/log/logrus"
)

// app is the state shared by the commands: the switch built
// from the configuration, with its mounts.
type app struct {
	configPath string
	printOnly  bool

	logger *logrus.Logger
	sw     *vfsswitch.Switch
}

func (a *app) setup(cmd *cobra.Command) error {
	cm, err := config.NewManager(a.configPath)
	if err != nil {
		return err
	}
	cfg, err := cm.Config()
	if err != nil {
		return err
	}

	a.logger = logrus.New()
	a.logger.SetOutput(cmd.ErrOrStderr())
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	a.logger.SetLevel(level)
	if a.printOnly {
		a.logger.Info(cm.Print())
	}
	topics, err := log.ParseTopics(cfg.Log.Topics)
	if err != nil {
		return err
	}

	a.sw = vfsswitch.New(
		vfsswitch.WithLogger(&vfslogrus.Logrus{
			Logger: a.logger,
			Enable: topics,
		}),
		vfsswitch.WithLockTimeout(cfg.LockTimeout),
	)
	for _, mc := range cfg.Mounts {
		device, err := newDevice(mc)
		if err != nil {
			return errors.Wrapf(err, "mount %q", mc.Path)
		}
		if mc.Mkfs {
			if err := a.sw.Mkfs(device, mc.Backend); err != nil {
				return errors.Wrapf(err, "mkfs %q", mc.Path)
			}
		}
		if err := a.sw.Mount(device, mc.Path, mc.Backend); err != nil {
			return errors.Wrapf(err, "mount %q", mc.Path)
		}
		a.logger.WithFields(logrus.Fields{
			"path":    mc.Path,
			"backend": mc.Backend,
		}).Debug("mounted")
	}

	// The working directory may live inside a mount.
	if err := a.sw.Chdir(cfg.Cwd); err != nil {
		return errors.Wrap(err, "cwd")
	}
	return nil
}

func (a *app) teardown() error {
	if a.sw == nil {
		return nil
	}
	return a.sw.UnmountAll()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "vfsctl",
		Short:         "Operate on a virtual file system assembled from configuration",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	rootCmd.PersistentFlags().StringVarP(
		&a.configPath, "config", "c", a.configPath,
		"Path to the YAML or JSON configuration",
	)
	rootCmd.PersistentFlags().BoolVar(
		&a.printOnly, "print-config", a.printOnly,
		"Log the merged configuration at startup",
	)
	for _, command := range commands {
		rootCmd.AddCommand(command.cobra(a))
	}
	rootCmd.AddCommand(a.shellCmd())
	return rootCmd
}
