package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"chat-relay/domain"
	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
}

// inspect dumps the relay store as tables: accounts and persisted messages.
// It opens Badger read-only with the lock guard bypassed so it can run next
// to a live relay.
func main() {
	if err := run(); err != nil {
		color.Error.Println(err)
		os.Exit(1)
	}
}

func run() error {
	prefix := flag.String("prefix", "", "restrict the message dump to one conversation pair, e.g. 1-2")
	limit := flag.Int("limit", 50, "maximum rows per table")
	flag.Parse()

	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	options := badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(options)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := renderUsers(db, *limit); err != nil {
		return err
	}
	return renderMessages(db, *prefix, *limit)
}

func renderUsers(db *badger.DB, limit int) error {
	color.Info.Println("Accounts")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Username", "Created"})

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("user:id:")
		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			var user repositories.User
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			})
			if err != nil {
				return err
			}
			table.Append([]string{
				strconv.FormatInt(user.ID, 10),
				user.Username,
				user.CreatedAt.Format(time.RFC3339),
			})
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func renderMessages(db *badger.DB, pair string, limit int) error {
	color.Info.Println("Messages")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "From", "To", "Content"})

	prefix := []byte("msg:")
	if pair != "" {
		prefix = []byte("msg:" + pair + ":")
	}

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			var message domain.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			})
			if err != nil {
				return err
			}
			table.Append([]string{
				message.At.Format("2006-01-02 15:04:05"),
				strconv.FormatInt(message.SenderID, 10),
				strconv.FormatInt(message.RecipientID, 10),
				message.Content,
			})
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}
