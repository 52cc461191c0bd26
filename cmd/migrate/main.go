// Command migrate applies or reverts the embedded database migrations.
//
//	migrate            apply every pending migration
//	migrate -down 1    revert the last migration
package main

import (
	"flag"

	"github.com/servicehub/backend/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	down := flag.Int("down", 0, "number of migrations to revert")
	flag.Parse()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	if err := viper.ReadInConfig(); err != nil {
		logrus.WithError(err).Info("Config file not found, using defaults")
	}

	db := database.InitDatabase()
	defer db.Close()

	var err error
	if *down > 0 {
		err = database.Rollback(db, *down)
	} else {
		err = database.Migrate(db)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Migration failed")
	}
}
