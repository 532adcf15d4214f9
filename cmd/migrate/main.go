package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Applies every *.sql file under the schema dir, in name order, inside one
// transaction. Statements are idempotent (CREATE ... IF NOT EXISTS), so
// re-running is safe.
func main() {
	viper.SetConfigName("values_local")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("read config: %w", err))
	}
	viper.SetDefault("schema_dir", "configs")

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = viper.GetString("db_dsn")
	}
	if dsn == "" {
		panic("no db_dsn in config and no DATABASE_DSN in env")
	}

	if err := run(dsn, viper.GetString("schema_dir")); err != nil {
		panic(err)
	}
	fmt.Println("done")
}

func run(dsn, schemaDir string) error {
	files, err := filepath.Glob(filepath.Join(schemaDir, "*.sql"))
	if err != nil {
		return errors.Wrap(err, "glob schema files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.sql files under %s", schemaDir)
	}
	sort.Strings(files)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	for _, file := range files {
		sql, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrapf(err, "read %s", file)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return errors.Wrapf(err, "apply %s", file)
		}
		fmt.Printf("%s applied\n", file)
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}
