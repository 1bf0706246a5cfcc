package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate"
	_ "github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	dbconf "github.com/kthomas/go-db-config"
	"github.com/provideplatform/mixer/common"
)

const defaultMigrationsPath = "file://./ops/migrations"

func main() {
	err := migrateUp(migrationsSource(), databaseURL())
	if err != nil {
		common.Log.Warningf("migrations failed; %s", err.Error())
		os.Exit(1)
	}
}

func migrationsSource() string {
	if os.Getenv("MIGRATIONS_PATH") != "" {
		return os.Getenv("MIGRATIONS_PATH")
	}
	return defaultMigrationsPath
}

func databaseURL() string {
	cfg := dbconf.GetDBConfig()

	sslMode := cfg.DatabaseSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.DatabaseUser),
		url.QueryEscape(cfg.DatabasePassword),
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseName,
		sslMode,
	)
}

func migrateUp(source, dsn string) error {
	m, err := migrate.New(source, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations; %s", err.Error())
	}
	defer m.Close()

	err = m.Up()
	if err == migrate.ErrNoChange {
		common.Log.Debug("database schema is current")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply migrations; %s", err.Error())
	}

	version, dirty, _ := m.Version()
	common.Log.Debugf("migrated database schema to version %d; dirty: %v", version, dirty)
	return nil
}
