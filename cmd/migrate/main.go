// Command migrate applies the SQL schema migrations.
//
//	migrate up | down | version | to <n>
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"ms-eventchain/internal/config"
	"ms-eventchain/internal/database"
	"ms-eventchain/internal/database/migrations"
	"ms-eventchain/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	bunDB, err := database.Connect(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB.DB, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir}, log)

	switch command {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("MIGRATE", "usage: migrate to <version>")
		}
		var version uint64
		version, err = strconv.ParseUint(os.Args[2], 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(version))
		}
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = runner.Version()
		if err == nil {
			log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty=%v)", version, dirty))
		}
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown command %q (want up, down, to or version)", command))
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("%s completed", command))
}
