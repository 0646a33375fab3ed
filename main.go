// twinftp runs the server or the interactive client of the twinftp protocol.
//
//	twinftp server            serve TWINFTP_ROOT on TWINFTP_ADDR
//	twinftp client [addr]     connect, log in and open the prompt
//
// Both sides are configured through the environment, see env.go.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/telebroad/twinftp/client"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/httphandler"
	"github.com/telebroad/twinftp/keys"
	"github.com/telebroad/twinftp/metrics"
	"github.com/telebroad/twinftp/server"
	"github.com/telebroad/twinftp/sftp"
)

func main() {
	cmd := "server"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "server":
		logger := setupLogger(os.Stdout, "twinftp-server")
		slog.SetDefault(logger)
		err = runServer(logger)
	case "client":
		logger := setupLogger(os.Stderr, "twinftp-client")
		slog.SetDefault(logger)
		err = runClient(logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "usage: %s server | client [addr]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func setupLogger(w io.Writer, app string) *slog.Logger {
	logLevel := slog.LevelInfo
	AddSource := false
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		logLevel = slog.LevelDebug
		AddSource = true
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}

	handler := tint.NewHandler(w, &tint.Options{
		AddSource: AddSource,
		Level:     logLevel,
	})
	logger := slog.New(handler).With("app", app)
	logger.Debug("Logger initialized", "level", logLevel)
	return logger
}

func runServer(logger *slog.Logger) error {
	env, err := GetServerEnv(logger)
	if err != nil {
		return fmt.Errorf("error getting environment: %w", err)
	}
	u, err := GetUsers(logger, env.AuthFile)
	if err != nil {
		return err
	}

	localFS := filesystem.NewLocalFS(env.Root)

	srv, err := server.NewServer(env.Addr, localFS, u)
	if err != nil {
		return err
	}
	srv.SetLogger(logger)
	srv.PasvMinPort = env.PasvMinPort
	srv.PasvMaxPort = env.PasvMaxPort
	srv.Encrypt = env.Encrypt
	if env.TLS {
		host, _, _ := net.SplitHostPort(env.Addr)
		srv.TLSConfig, err = keys.ServerTLSConfig(env.CrtFile, env.KeyFile, []string{host, "localhost"})
		if err != nil {
			return err
		}
	}

	var opsServer *httphandler.Server
	if env.MetricsAddr != "" {
		m := metrics.New()
		srv.Metrics = m
		ops := httphandler.NewOpsHandler(srv, m.Handler())
		ops.SetLogger(logger)
		opsServer = httphandler.NewServer(env.MetricsAddr, ops)
		// try is the same as listen and serve but returns nil if nothing failed within the timeout
		if err := opsServer.TryListenAndServe(time.Second); err != nil {
			return fmt.Errorf("error starting metrics server: %w", err)
		}
		logger.Info("Metrics server started", "addr", env.MetricsAddr)
	}

	var sftpServer *sftp.Server
	if env.SftpAddr != "" {
		sftpServer = sftp.NewSFTPServer(env.SftpAddr, localFS, u)
		sftpServer.SetLogger(logger)
		if err := sftpServer.SetHostKeyFile(env.SftpKeyFile); err != nil {
			return err
		}
		if err := sftpServer.TryListenAndServe(time.Second); err != nil {
			return fmt.Errorf("error starting sftp server: %w", err)
		}
		logger.Info("SFTP server started", "addr", env.SftpAddr)
	}

	if err := srv.TryListenAndServe(time.Second); err != nil {
		return err
	}
	logger.Info("Server started", "addr", env.Addr, "root", env.Root, "tls", env.TLS, "encrypt", env.Encrypt)

	// graceful shutdown all servers
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	sig := <-stopChan
	logger.Info("Shutting down", "signal", sig.String())

	var result *multierror.Error
	if err := srv.Close(fmt.Errorf("server closed by signal %s", sig)); err != nil {
		result = multierror.Append(result, err)
	}
	if sftpServer != nil {
		if err := sftpServer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if opsServer != nil {
		ctx, cancel := context.WithTimeoutCause(context.Background(), 5*time.Second, errors.New("metrics server shutdown timed out"))
		defer cancel()
		if err := opsServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func runClient(logger *slog.Logger, args []string) error {
	env, err := GetClientEnv(logger)
	if err != nil {
		return fmt.Errorf("error getting environment: %w", err)
	}
	if len(args) > 0 {
		env.Addr = args[0]
	}
	tlsConfig, err := env.TLSConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(ctx, client.Options{
		Addr:      env.Addr,
		Mode:      env.Mode,
		TLSConfig: tlsConfig,
		Timeout:   env.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	name, password, err := client.ReadCredentials(os.Stdin, os.Stdout)
	if err != nil {
		_ = c.Close()
		return err
	}
	if err := c.Login(name, password); err != nil {
		return err
	}
	if err := c.Join(ctx); err != nil {
		return err
	}

	client.NewREPL(c, os.Stdout).Run()
	if err := c.Close(); err != nil {
		return err
	}
	return c.Wait()
}
