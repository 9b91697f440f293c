package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/refstore"
)

func setupStoreFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("db", "refstore.db", "path of the store file (bolt) or directory (leveldb)")
	f.String("engine", string(refstore.EngineBolt), "storage engine (bolt, leveldb)")
	f.String("hash", string(refstore.XXHash), "value hash algorithm (xxhash, highwayhash, basic)")
	f.Int64("max-size", 0, "maximum store size in bytes, 0 for unlimited")
	f.Int("max-puts-before-commit", refstore.DefaultMaxPutsBeforeCommit, "loader puts per write transaction")
	f.Int("max-purge-deletes-before-commit", refstore.DefaultMaxPurgeDeletesBeforeCommit, "purge deletions per write transaction")
	f.Duration("purge-age", refstore.DefaultPurgeAge, "streams not accessed for this long are purged by purge-old")
	f.Bool("verbose", false, "log every mutation")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("refstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", viper.GetString("log-level"))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func storeOptions() (refstore.Options, error) {
	logger, err := newLogger()
	if err != nil {
		return refstore.Options{}, err
	}
	engine := refstore.Engine(viper.GetString("engine"))
	switch engine {
	case refstore.EngineBolt, refstore.EngineLevelDB:
	default:
		return refstore.Options{}, fmt.Errorf("invalid engine %s", engine)
	}
	return refstore.Options{
		Engine:                      engine,
		MaxSize:                     viper.GetInt64("max-size"),
		MaxPutsBeforeCommit:         viper.GetInt("max-puts-before-commit"),
		MaxPurgeDeletesBeforeCommit: viper.GetInt("max-purge-deletes-before-commit"),
		PurgeAge:                    viper.GetDuration("purge-age"),
		HashAlgorithm:               refstore.HashAlgorithm(viper.GetString("hash")),
		Logger:                      logger,
		Verbose:                     viper.GetBool("verbose"),
	}, nil
}

func openStore() (*refstore.Store, error) {
	opt, err := storeOptions()
	if err != nil {
		return nil, err
	}
	return refstore.Open(viper.GetString("db"), opt)
}

// withStore opens the configured store for the duration of f.
func withStore(f func(s *refstore.Store) error) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return f(s)
}

func setupStreamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("pipeline", "", "pipeline UUID")
	f.String("pipeline-version", "", "pipeline version")
	f.Int64("stream", 0, "stream id")
	f.Int64("part", 0, "stream part index")
}

func streamDefinition() refstore.RefStreamDefinition {
	return refstore.RefStreamDefinition{
		PipelineUUID:    viper.GetString("pipeline"),
		PipelineVersion: viper.GetString("pipeline-version"),
		StreamID:        viper.GetInt64("stream"),
		PartIndex:       viper.GetInt64("part"),
	}
}

func mapDefinition() (refstore.MapDefinition, error) {
	name := viper.GetString("map")
	if name == "" {
		return refstore.MapDefinition{}, fmt.Errorf("--map is required")
	}
	return refstore.MapDefinition{RefStreamDefinition: streamDefinition(), MapName: name}, nil
}
