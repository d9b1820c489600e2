// Command taskmasterd is the process supervisor daemon described by
// §6: `taskmasterd [config_path]` with an optional -d/--daemon flag
// requesting background mode. Exit codes: 0 clean shutdown, 1
// initialization error, 130 SIGINT (§6). A SIGTERM-triggered shutdown
// exits 0, like any other clean shutdown.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmasterd/internal/alert"
	"taskmasterd/internal/config"
	"taskmasterd/internal/control"
	"taskmasterd/internal/engine"
)

const (
	defaultConfigPath = "config_file.yml"
	defaultListenAddr = "127.0.0.1:12345"
)

func main() {
	os.Exit(mainRun())
}

func mainRun() int {
	var daemonize bool
	var listenAddr string
	code := 0

	cmd := &cobra.Command{
		Use:           "taskmasterd [config_path]",
		Short:         "taskmasterd supervises a configured set of long-running programs",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			configPath := defaultConfigPath
			if len(args) == 1 {
				configPath = args[0]
			}
			rc, err := runDaemon(configPath, daemonize, listenAddr)
			code = rc
			return err
		},
	}
	cmd.Flags().BoolVarP(&daemonize, "daemon", "d", false, "request background mode")
	cmd.Flags().StringVar(&listenAddr, "listen", defaultListenAddr, "control server bind address")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskmasterd:", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func runDaemon(configPath string, daemonize bool, listenAddr string) (int, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	table, err := config.Load(configPath)
	if err != nil {
		return 1, fmt.Errorf("initialization error: %w", err)
	}

	if daemonize {
		log.Warn("-d/--daemon requested; detaching from the controlling terminal is left to the launching supervisor/init")
	}

	sink := alert.NewLoggingSink(log)
	eng := engine.New(table, configPath, log, sink)

	srv := control.New(listenAddr, eng, log)
	stopCtl := make(chan struct{})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(stopCtl) }()

	engErr := make(chan error, 1)
	go func() { engErr <- eng.Run() }()

	select {
	case err := <-srvErr:
		close(stopCtl)
		return 1, fmt.Errorf("control server error: %w", err)
	case err := <-engErr:
		close(stopCtl)
		<-srvErr
		if err != nil {
			return 1, err
		}
		if eng.ShutdownSignal() == syscall.SIGINT {
			return 130, nil
		}
		return 0, nil
	}
}
