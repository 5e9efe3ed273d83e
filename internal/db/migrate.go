package db

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending migration from the given directory.
// A schema already at head is not an error.
func RunMigrations(config Config, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, config.URL())
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Printf("[db] migration source close: %v", srcErr)
		}
		if dbErr != nil {
			log.Printf("[db] migration db close: %v", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("[db] schema already up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Printf("[db] migrations applied")
	return nil
}
