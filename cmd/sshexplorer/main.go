package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/b1naryth1ef/sshexplorer/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	v   = viper.New()
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "sshexplorer",
	Short:         "Browse and transfer files on a remote host over SSH",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		logrus.SetLevel(cfg.LogLevel)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	addConfigFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(connectionsCmd, lsCmd, getCmd, putCmd, serveCmd)
}

func addConfigFlags(flags *flag.FlagSet) {
	flags.String("config", "", "config file (default: "+config.Dir()+"/config.yaml)")
	flags.String("cache-dir", "", "directory downloads are written to")
	flags.String("known-hosts", "", "known_hosts file used as the trust store")
	flags.String("connections-file", "", "file holding saved connections")
	flags.String("max-download-size", "", "refuse to open files larger than this (e.g. 100MiB)")
	flags.String("keepalive-interval", "", "interval between liveness checks")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	v.BindPFlag(config.KeyCacheDir, flags.Lookup("cache-dir"))
	v.BindPFlag(config.KeyKnownHosts, flags.Lookup("known-hosts"))
	v.BindPFlag(config.KeyConnectionsFile, flags.Lookup("connections-file"))
	v.BindPFlag(config.KeyMaxDownloadSize, flags.Lookup("max-download-size"))
	v.BindPFlag(config.KeyKeepAliveInterval, flags.Lookup("keepalive-interval"))
	v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
}

func initConfig() {
	if path := rootCmd.PersistentFlags().Lookup("config").Value.String(); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(config.Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SSHEXPLORER")
	v.AutomaticEnv()
	config.SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.Warnf("failed to read config: %v", err)
		}
	}
}
