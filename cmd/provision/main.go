package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"chat-relay/auth"
	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// config carries the subset of the relay environment the provisioning tool
// needs. It opens the same store as the relay, so run it while the relay is
// stopped or point it at a copy.
type config struct {
	BadgerFilepath    string        `envconfig:"BADGER_FILEPATH" required:"true"`
	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	AuthTokenDuration time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"24h"`
}

func main() {
	if err := run(); err != nil {
		color.Error.Println(err)
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("username", "", "handle of the account to create")
	password := flag.String("password", "", "plain text password, hashed before storage")
	flag.Parse()

	// Missing .env is fine, the variables may come from the environment.
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	request := auth.ProvisionRequest{Username: *username, Password: *password}
	if err := auth.ValidateProvision(request); err != nil {
		return fmt.Errorf("invalid provisioning input: %w", err)
	}

	hashed, err := auth.HashPassword(request.Password)
	if err != nil {
		return fmt.Errorf("password hashing failed: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	users, err := repositories.NewUserRepository(db)
	if err != nil {
		return err
	}
	defer func() {
		_ = users.Close()
	}()

	identity, err := users.CreateUser(request.Username, hashed)
	if err != nil {
		return fmt.Errorf("account creation failed: %w", err)
	}

	token, err := auth.NewTokenService(cfg.JWTSecret, cfg.AuthTokenDuration).Generate(identity)
	if err != nil {
		return err
	}

	color.Success.Printf("Account created: id=%d username=%s\n", identity.ID, identity.Username)
	fmt.Printf("Bearer token (valid %s):\n%s\n", cfg.AuthTokenDuration, token)
	return nil
}
