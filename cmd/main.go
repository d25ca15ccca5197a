package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/YooLeon/portainer-monitor/internal/config"
	"github.com/YooLeon/portainer-monitor/internal/portainer"
	"github.com/YooLeon/portainer-monitor/internal/setup"

	"go.uber.org/zap"
)

// portainer-setup 验证连接参数、选择环境并写入连接配置文件
func main() {
	defaults := config.DefaultConnection()

	host := flag.String("host", "", "Portainer host")
	port := flag.Int("port", defaults.Port, "Portainer port")
	apiKey := flag.String("api-key", os.Getenv("PORTAINER_API_KEY"), "Portainer API key (defaults to $PORTAINER_API_KEY)")
	ssl := flag.Bool("ssl", defaults.SSL, "Use HTTPS")
	verifySSL := flag.Bool("verify-ssl", defaults.VerifySSL, "Verify the server certificate")
	endpointID := flag.Int("endpoint", 0, "Environment (endpoint) ID to monitor")
	out := flag.String("out", "portainer.yaml", "Path of the connection file to write")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// 初始化日志
	logger := zap.NewNop()
	if *debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if *host == "" || *apiKey == "" {
		fmt.Fprintln(os.Stderr, "-host and -api-key are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	discovery, err := setup.Discover(ctx, portainer.Options{
		Host:      *host,
		Port:      *port,
		APIKey:    *apiKey,
		SSL:       *ssl,
		VerifySSL: *verifySSL,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection failed (%s): %v\n", setup.ErrorKey(err), err)
		os.Exit(1)
	}

	fmt.Printf("Portainer %s (instance %s)\n", discovery.Version, discovery.InstanceID)
	for _, env := range discovery.Environments {
		fmt.Printf("  %4d  %-24s %s\n", env.ID, env.Name, env.URL)
	}

	id := *endpointID
	if id == 0 {
		if len(discovery.Environments) > 1 {
			fmt.Fprintln(os.Stderr, "Multiple environments available, choose one with -endpoint")
			os.Exit(2)
		}
		id = discovery.Environments[0].ID
	}

	env, found := discovery.Find(id)
	if !found {
		fmt.Fprintf(os.Stderr, "Environment %d not found\n", id)
		os.Exit(1)
	}

	conn := config.Connection{
		Host:       *host,
		Port:       *port,
		APIKey:     *apiKey,
		SSL:        *ssl,
		VerifySSL:  *verifySSL,
		EndpointID: env.ID,
		InstanceID: discovery.InstanceID,
	}

	if existing, err := config.LoadConnection(*out); err == nil && existing.UniqueID() == conn.UniqueID() {
		fmt.Fprintf(os.Stderr, "%s is already configured in %s\n", conn.UniqueID(), *out)
		os.Exit(1)
	}

	if err := conn.Save(*out); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s for %s (%s)\n", *out, conn.Title(), env)
}
