// Command useradd provisions a user record in the configured credential store.
//
//	STORE_DRIVER=sqlite SQLITE_PATH=users.db useradd --username alice --role admin
//
// The password is prompted for twice on a terminal, or read as one line from a
// piped stdin. An existing bcrypt digest can be imported with --bcrypt-hash; it
// is upgraded to the current algorithm on the user's first successful login.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"golang.org/x/term"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/components/password"
	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
	"github.com/andrasnagy-data/gatekeep/internal/shared/database"
	"github.com/andrasnagy-data/gatekeep/internal/shared/logging"
)

type options struct {
	username   string
	role       string
	bcryptHash string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, out io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("useradd", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.username, "username", "u", "", "username to create")
	flagSet.StringVarP(&opts.role, "role", "r", string(credential.RoleUser), "role: admin or user")
	flagSet.StringVar(&opts.bcryptHash, "bcrypt-hash", "", "import an existing bcrypt digest instead of prompting for a password")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if strings.TrimSpace(opts.username) == "" {
		return errors.New("--username is required")
	}
	role := credential.Role(opts.role)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", opts.role)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return errors.New("the memory store does not persist users; set STORE_DRIVER to sqlite or postgres")
	}

	var (
		store  credential.Store
		hasher *password.Hasher
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			logging.NewLogger,
			database.NewPgxPool,
			database.NewSQLiteDB,
			credential.NewStore,
			password.NewHasher,
		),
		fx.Invoke(database.ClosePoolOnStop),
		fx.Populate(&store, &hasher),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	record := credential.UserRecord{Username: opts.username, Role: role}
	if opts.bcryptHash != "" {
		digest := []byte(opts.bcryptHash)
		salt, err := password.BcryptSalt(digest)
		if err != nil {
			return fmt.Errorf("--bcrypt-hash: %w", err)
		}
		record.PasswordHash = digest
		record.Salt = salt
		record.AlgorithmTag = password.TagBcrypt
	} else {
		plaintext, err := readPassword(stdin, out)
		if err != nil {
			return err
		}
		salt, err := hasher.NewSalt()
		if err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
		record.PasswordHash = hasher.Hash(plaintext, salt)
		record.Salt = salt
		record.AlgorithmTag = hasher.Tag()
	}

	created, err := store.Create(ctx, record)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(out, "created %s (%s) id=%s\n", created.Username, created.Role, created.ID)
	return nil
}

// readPassword prompts twice on a terminal and reads a single line otherwise.
func readPassword(stdin io.Reader, out io.Writer) (string, error) {
	file, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		plaintext := strings.TrimRight(line, "\r\n")
		if plaintext == "" {
			return "", errors.New("password is empty")
		}
		return plaintext, nil
	}

	fd := int(file.Fd())
	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password confirmation: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password is empty")
	}
	return string(first), nil
}
