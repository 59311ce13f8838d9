// Package main implements contentsessionctl, a demo CLI exercising the
// distributed content session end to end against the reference
// bbolt/badger/in-memory implementations (localcas/fake, location/fake,
// copier/fake). It is not a production fleet client — it exists so the
// session's wiring can be driven by hand, the way the teacher's own
// cmd/ tree hosts a demo/admin CLI atop its production services.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/oasisprotocol/contentfleet/go/common/logging"
	copierfake "github.com/oasisprotocol/contentfleet/go/copier/fake"
	localcasfake "github.com/oasisprotocol/contentfleet/go/localcas/fake"
	"github.com/oasisprotocol/contentfleet/go/location"
	locationfake "github.com/oasisprotocol/contentfleet/go/location/fake"
	"github.com/oasisprotocol/contentfleet/go/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "contentsessionctl",
	Short: "Drive a distributed content session against the reference fakes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(viper.GetString("datadir"), 0o755); err != nil {
			return err
		}
		level := zapcore.InfoLevel
		if viper.GetBool("verbose") {
			level = zapcore.DebugLevel
		}
		return logging.Initialize(level, viper.GetBool("development"), logFilePath())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.contentsessionctl.yaml)")
	rootCmd.PersistentFlags().String("datadir", "./contentsessionctl-data", "directory for the reference CAS/directory stores")
	rootCmd.PersistentFlags().String("self", "localhost:9001", "this machine's location, as reported to the directory")
	rootCmd.PersistentFlags().String("build-id", "", "build id enabling the ring-membership tracker")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug-level logging")
	rootCmd.PersistentFlags().Bool("development", false, "human-readable (non-JSON) log output")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(placeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".contentsessionctl")
	}
	viper.SetEnvPrefix("CONTENTSESSIONCTL")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// sharedNetwork backs the copier of every session opened within one
// contentsessionctl process. It lives in memory only, so separate CLI
// invocations do not observe each other's pushes, even against the same
// --datadir. It is a demo convenience, not a real transport: in a real
// fleet each machine is a separate process with its own copier talking
// over the wire.
var sharedNetwork = copierfake.NewNetwork()

// openSession wires a Session atop the reference fakes rooted at
// --datadir, the way a real build worker would wire one atop its
// production local CAS, directory client, and copier.
func openSession(cmd *cobra.Command, configure ...func(*session.Config)) (*session.Session, func(), error) {
	dataDir := viper.GetString("datadir")
	self := location.MachineLocation(viper.GetString("self"))

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, err
	}

	cas, err := localcasfake.Open(filepath.Join(dataDir, "cas"))
	if err != nil {
		return nil, nil, fmt.Errorf("open local CAS: %w", err)
	}
	store, err := locationfake.Open(filepath.Join(dataDir, "directory"), self)
	if err != nil {
		cas.Close()
		return nil, nil, fmt.Errorf("open directory: %w", err)
	}
	cp := copierfake.New(sharedNetwork, self)

	cfg := session.DefaultConfig()
	cfg.ProactiveCopyOnPut = true
	cfg.Pin.ProactiveCopyOnPin = true
	cfg.ProactiveCopyMode = session.ProactiveCopyBoth
	cfg.RegisterEagerlyOnPut = true
	cfg.RespectSkipRegisterHint = true
	cfg.Pin.RespectSkipRegisterHint = true
	if buildID := viper.GetString("build-id"); buildID != "" {
		cfg.BuildID = []byte(buildID)
	}
	for _, f := range configure {
		f(&cfg)
	}

	sess := session.New(cas, store, cp, cfg, cmd.Context())
	if err := sess.Start(cmd.Context()); err != nil {
		cas.Close()
		store.Close()
		return nil, nil, fmt.Errorf("start session: %w", err)
	}

	cleanup := func() {
		_ = sess.Shutdown(cmd.Context())
		cas.Close()
		store.Close()
	}
	return sess, cleanup, nil
}

// logFilePath is where every contentsessionctl invocation appends its
// log output, so the watch subcommand has something to tail.
func logFilePath() string {
	return filepath.Join(viper.GetString("datadir"), "contentsessionctl.log")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
