package config

import (
	"flag"
	"os"
	"time"
)

type Config struct {
	ServerPort      int
	ServerHost      string
	ConnectionPath  string
	MonitorInterval time.Duration
	Password        string
	Debug           bool
}

func LoadConfig() *Config {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) *Config {
	serverPort := fs.Int("port", 14264, "Server port")
	serverHost := fs.String("host", "0.0.0.0", "Server host")
	connectionPath := fs.String("config", "portainer.yaml", "Path to the Portainer connection file written by portainer-setup")
	monitorInterval := fs.Duration("interval", 3*time.Second, "Refresh interval")
	password := fs.String("password", "", "Authentication password")
	debug := fs.Bool("debug", false, "Enable development logging")

	fs.Parse(args)

	return &Config{
		ServerPort:      *serverPort,
		ServerHost:      *serverHost,
		ConnectionPath:  *connectionPath,
		MonitorInterval: *monitorInterval,
		Password:        *password,
		Debug:           *debug,
	}
}
