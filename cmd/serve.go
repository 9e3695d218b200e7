package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"videoterror/internal/config"
	"videoterror/internal/model"
	"videoterror/internal/server"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start vtserver",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func loadConfig() (*config.Config, error) {
	conf, err := config.InitConfig(configFile)
	if errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("config file %s not found, using defaults", configFile)
		conf = config.DefaultConfig()
		conf.Fill()
		return conf, nil
	}
	return conf, err
}

func openStore(conf *config.Config) (*model.Store, error) {
	if conf.MetadataDir == "" {
		logrus.Warn("no metadata dir, keeping metadata in memory")
		return model.NewMemoryStore(), nil
	}
	return model.OpenStore(conf.MetadataDir)
}

func runServe() {
	conf, err := loadConfig()
	if err != nil {
		logrus.Fatal("initConfig error, ", err.Error())
	}

	logrus.Infof("config: %+v", conf.Redacted())

	store, err := openStore(conf)
	if err != nil {
		logrus.Fatal("failed to open metadata store, ", err)
	}
	defer store.Close()

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	srv, err := server.NewServer(ctx, conf, store)
	if err != nil {
		logrus.Errorf("newServer error, %s", err.Error())
		return
	}
	go srv.Start()

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	<-termChan
	logrus.Infof("server is shutting down...")
	srv.Shutdown()
}
