package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/telebroad/twinftp/client"
	"github.com/telebroad/twinftp/keys"
	"github.com/telebroad/twinftp/negotiate"
	"github.com/telebroad/twinftp/users"
)

// DefaultAddr is where the server listens and the client connects by default.
const DefaultAddr = "127.0.0.1:65000"

// ServerEnvironment is the environment of the server
type ServerEnvironment struct {
	Addr        string
	Root        string
	AuthFile    string
	TLS         bool
	CrtFile     string
	KeyFile     string
	Encrypt     bool
	PasvMinPort int
	PasvMaxPort int
	MetricsAddr string
	SftpAddr    string
	SftpKeyFile string
}

// GetServerEnv reads the TWINFTP_* server variables.
func GetServerEnv(logger *slog.Logger) (env *ServerEnvironment, err error) {
	env = &ServerEnvironment{
		Addr:        getenv("TWINFTP_ADDR", DefaultAddr),
		Root:        os.Getenv("TWINFTP_ROOT"),
		AuthFile:    getenv("TWINFTP_AUTH_FILE", "auth.json"),
		CrtFile:     os.Getenv("TWINFTP_CRT_FILE"),
		KeyFile:     os.Getenv("TWINFTP_KEY_FILE"),
		MetricsAddr: os.Getenv("TWINFTP_METRICS_ADDR"),
		SftpAddr:    os.Getenv("SFTP_SERVER_ADDR"),
		SftpKeyFile: os.Getenv("SFTP_KEY_FILE"),
	}
	if env.Root == "" {
		if env.Root, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("error getting working directory: %w", err)
		}
	}

	switch tlsMode := os.Getenv("TWINFTP_TLS"); {
	case env.CrtFile != "" || env.KeyFile != "":
		if env.CrtFile == "" || env.KeyFile == "" {
			return nil, errors.New("TWINFTP_CRT_FILE and TWINFTP_KEY_FILE must be set together")
		}
		env.TLS = true
	case tlsMode == "self-signed":
		env.TLS = true
	case tlsMode == "" || tlsMode == "off":
	default:
		return nil, fmt.Errorf("invalid TWINFTP_TLS %q", tlsMode)
	}

	if env.Encrypt, err = getBool("TWINFTP_ENCRYPT", true); err != nil {
		return nil, err
	}
	if env.PasvMinPort, err = getInt("PASV_MIN_PORT"); err != nil {
		return nil, err
	}
	if env.PasvMaxPort, err = getInt("PASV_MAX_PORT"); err != nil {
		return nil, err
	}
	if env.PasvMinPort > env.PasvMaxPort {
		return nil, fmt.Errorf("PASV_MIN_PORT %d is above PASV_MAX_PORT %d", env.PasvMinPort, env.PasvMaxPort)
	}

	logger.Debug("TWINFTP_ADDR is", "ADDR", env.Addr)
	logger.Debug("TWINFTP_ROOT is", "ROOT", env.Root)
	logger.Debug("TWINFTP_AUTH_FILE is", "file", env.AuthFile)
	logger.Debug("PASV_MIN_PORT is", "PORT", env.PasvMinPort)
	logger.Debug("PASV_MAX_PORT is", "PORT", env.PasvMaxPort)
	logger.Debug("TLS is", "enabled", env.TLS, "crt", env.CrtFile, "key", env.KeyFile)
	return env, nil
}

// GetUsers loads the credential file and the optional DEFAULT_USER.
func GetUsers(logger *slog.Logger, authFile string) (*users.LocalUsers, error) {
	u := users.NewLocalUsers()
	if authFile != "" {
		err := u.LoadFile(authFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("Credential file not found", "file", authFile)
		case err != nil:
			return nil, err
		}
	}

	DefaultUser := os.Getenv("DEFAULT_USER")
	DefaultPass := os.Getenv("DEFAULT_PASS")
	DefaultIp := os.Getenv("DEFAULT_IP")
	logger.Debug("DEFAULT_USER is", "username", DefaultUser)
	logger.Debug("DEFAULT_IP is", "Allowed form origin IPs", DefaultIp)
	if DefaultUser == "" || DefaultPass == "" {
		logger.Debug("DEFAULT_USER or DEFAULT_PASS is empty, not creating default user")
		return u, nil
	}

	user := u.AddPassword(DefaultUser, DefaultPass)
	for _, ip := range strings.Split(DefaultIp, ",") {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if err := user.AddIP(ip); err != nil {
			return nil, fmt.Errorf("DEFAULT_IP: %w", err)
		}
	}
	return u, nil
}

// ClientEnvironment is the environment of the client
type ClientEnvironment struct {
	Addr       string
	Mode       negotiate.Mode
	TLS        string
	CAFile     string
	ServerName string
	Timeout    time.Duration
}

// GetClientEnv reads the TWINFTP_* client variables.
func GetClientEnv(logger *slog.Logger) (env *ClientEnvironment, err error) {
	env = &ClientEnvironment{
		Addr:       getenv("TWINFTP_ADDR", DefaultAddr),
		Mode:       negotiate.Mode(getenv("TWINFTP_MODE", string(negotiate.Passive))),
		TLS:        os.Getenv("TWINFTP_TLS"),
		CAFile:     os.Getenv("TWINFTP_CA_FILE"),
		ServerName: os.Getenv("TWINFTP_SERVER_NAME"),
		Timeout:    client.DefaultTimeout,
	}
	if env.Mode != negotiate.Passive && env.Mode != negotiate.Active {
		return nil, fmt.Errorf("invalid TWINFTP_MODE %q, want p or a", env.Mode)
	}
	switch env.TLS {
	case "", "off", "on", "insecure":
	default:
		return nil, fmt.Errorf("invalid TWINFTP_TLS %q", env.TLS)
	}
	if v := os.Getenv("TWINFTP_TIMEOUT"); v != "" {
		if env.Timeout, err = time.ParseDuration(v); err != nil || env.Timeout <= 0 {
			return nil, fmt.Errorf("invalid TWINFTP_TIMEOUT %q", v)
		}
	}

	logger.Debug("TWINFTP_ADDR is", "ADDR", env.Addr)
	logger.Debug("TWINFTP_MODE is", "mode", env.Mode)
	logger.Debug("TWINFTP_TLS is", "tls", env.TLS)
	return env, nil
}

// TLSConfig is nil for a plain connection.
func (env *ClientEnvironment) TLSConfig() (*tls.Config, error) {
	switch env.TLS {
	case "on", "insecure":
	default:
		return nil, nil
	}
	serverName := env.ServerName
	if serverName == "" {
		serverName, _, _ = net.SplitHostPort(env.Addr)
	}
	return keys.ClientTLSConfig(env.CAFile, serverName, env.TLS == "insecure")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
