// Package dbconn builds MySQL connections for the mysql warehouse.
package dbconn

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	defaultHost     = "127.0.0.1:3306"
	defaultUsername = "histclean"
	maxConnLifetime = time.Minute * 3
)

type DBConfig struct {
	Host               string
	Username           string
	Password           string
	Database           string
	MaxOpenConnections int
	LockWaitTimeout    int // seconds; applies to the CREATE/DROP TABLE metadata lock
	// TLS connection mode (DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY).
	// Empty means PREFERRED.
	TLSMode string
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConnections: 8,
		LockWaitTimeout:    30,
	}
}

// ApplyOptionFile fills any field not already set from the [client]
// section of a MySQL option file. Values set explicitly always win.
func (c *DBConfig) ApplyOptionFile(p *confParams) {
	if c.Host == "" {
		c.Host = p.GetHost()
	}
	if c.Username == "" {
		c.Username = p.GetUser()
	}
	if c.Password == "" {
		c.Password = p.GetPassword()
	}
	if c.Database == "" {
		c.Database = p.GetDatabase()
	}
	if c.TLSMode == "" {
		c.TLSMode = p.GetTLSMode()
	}
}

// tlsParam maps a MySQL client TLS mode to the driver's tls parameter.
// VERIFY_CA has no driver equivalent without a custom CA and is treated as VERIFY_IDENTITY.
func tlsParam(mode string) string {
	switch strings.ToUpper(mode) {
	case "DISABLED":
		return "false"
	case "REQUIRED":
		return "skip-verify"
	case "VERIFY_CA", "VERIFY_IDENTITY":
		return "true"
	default:
		return "preferred"
	}
}

// DSN returns the driver DSN for this configuration.
func (c *DBConfig) DSN() (string, error) {
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, 3306)
	}
	if c.Database == "" {
		return "", fmt.Errorf("database is required")
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.User = c.Username
	if cfg.User == "" {
		cfg.User = defaultUsername
	}
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.AllowNativePasswords = true
	cfg.ParseTime = true
	cfg.RejectReadOnly = true
	cfg.TLSConfig = tlsParam(c.TLSMode)
	cfg.Params = map[string]string{
		"time_zone":         "'+00:00'",
		"lock_wait_timeout": strconv.Itoa(c.LockWaitTimeout),
	}
	return cfg.FormatDSN(), nil
}

// New opens a pool for the configuration. It does not ping; callers
// verify connectivity through the warehouse preflight.
func New(c *DBConfig) (*sql.DB, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	return db, nil
}
