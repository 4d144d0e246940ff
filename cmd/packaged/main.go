// packaged is the package daemon: it registers org.freedesktop.package1 on
// the system bus and resolves package names to image paths for other
// services.
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var errNameTaken = errors.New("bus name already taken")

func main() {
	configPath := pflag.String("config", "", "path to the daemon configuration file")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	log := logrus.StandardLogger()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if pflag.NArg() != 0 {
		log.Error("this program takes no arguments")
		os.Exit(1)
	}

	v := viper.New()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.SetConfigName("packaged")
		v.AddConfigPath("/etc/appfs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("packaged")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Errorf("unable to read configuration: %v", err)
			os.Exit(1)
		}
		log.Warn("no configuration file found; starting with an empty package map")
	}

	m := newManager(log)
	m.load(v)

	conn, err := m.connect()
	if err != nil {
		log.Errorf("failed to connect to system bus: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	log.Infof("packaged running as pid %d", os.Getpid())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
}
