package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/e2e-delegation/config"
	"github.com/tinfoilsh/e2e-delegation/dataowner"
	"github.com/tinfoilsh/e2e-delegation/delegation"
	"github.com/tinfoilsh/e2e-delegation/keystore"
)

const name = "keychain"

var errUsage = errors.New("usage")

// errInvalidKey is returned by check when the local key does not match.
var errInvalidKey = errors.New("private key does not match the published public key")

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s [flags] <command> [args]

Commands:
  generate <dataOwnerId>                 create and publish a key pair
  check <dataOwnerId>                    verify the local key against the directory
  export <dataOwnerId>                   print the key pair as a JWK
  import-jwk <dataOwnerId> <file>        import a JWK, completed from the directory
  import-pkcs8 <dataOwnerId> <hexfile>   import a hex PKCS8 private key
  share-key <ownerId> <delegateId>       create an exchange key for a delegate

Flags:
`, name)
	config.Usage(name, w)
}

type app struct {
	dir      dataowner.Directory
	keychain *keystore.Keychain
	crypto   *delegation.Crypto
	out      io.Writer
}

func newApp(cfg *config.Config, dir dataowner.Directory, keychain *keystore.Keychain, out io.Writer) (*app, error) {
	c, err := delegation.New(delegation.Options{
		Directory:  dir,
		Keychain:   keychain,
		Primitives: cfg.PrimitivesSuite(),
	})
	if err != nil {
		return nil, err
	}
	return &app{dir: c.Directory(), keychain: keychain, crypto: c, out: out}, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	command, id := args[0], args[1]
	logger := log.WithFields(log.Fields{"command": command, "data_owner": id})

	switch command {
	case "generate":
		owner, err := a.crypto.GenerateDataOwnerKeyPair(ctx, id)
		if err != nil {
			return err
		}
		logger.WithField("rev", owner.Rev).Info("Key pair published")
		fmt.Fprintln(a.out, owner.PublicKey)

	case "check":
		owner, err := a.dir.GetDataOwner(ctx, id)
		if err != nil {
			return err
		}
		if !a.crypto.CheckPrivateKeyValidity(ctx, owner) {
			return errInvalidKey
		}
		fmt.Fprintln(a.out, "valid")

	case "export":
		pair, err := a.keychain.LoadKeyPair(id)
		if err != nil {
			return err
		}
		jwk, err := keystore.ExportJWK(pair)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(jwk))

	case "import-jwk", "import-pkcs8":
		if len(args) < 3 {
			return errUsage
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		owner, err := a.dir.GetDataOwner(ctx, id)
		if err != nil {
			return err
		}
		if command == "import-jwk" {
			_, err = a.keychain.ImportJWK(id, data, owner.PublicKey)
		} else {
			_, err = a.keychain.ImportPKCS8Hex(id, strings.TrimSpace(string(data)), owner.PublicKey)
		}
		if err != nil {
			return err
		}
		logger.Info("Key pair imported")

	case "share-key":
		if len(args) < 3 {
			return errUsage
		}
		owner, err := a.crypto.GenerateKeyForDelegate(ctx, id, args[2])
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{"delegate": args[2], "rev": owner.Rev}).Info("Exchange key created")

	default:
		return errUsage
	}
	return nil
}

func main() {
	cfg, args, err := config.Load(name, os.Args[1:], os.LookupEnv)
	if err != nil {
		usage(os.Stderr)
		log.Fatalf("Invalid arguments: %v", err)
	}
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
		log.Debug("Verbose logging enabled")
	}

	dir, err := cfg.Directory()
	if err != nil {
		log.Fatalf("Failed to create directory client: %v", err)
	}
	keychain, closeKeychain, err := cfg.OpenKeychain()
	if err != nil {
		log.Fatalf("Failed to open keychain: %v", err)
	}

	a, err := newApp(cfg, dir, keychain, os.Stdout)
	if err != nil {
		closeKeychain()
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = a.run(ctx, args)
	stop()
	if cerr := closeKeychain(); cerr != nil {
		log.Errorf("Failed to close keychain: %v", cerr)
	}

	switch {
	case errors.Is(err, errUsage):
		usage(os.Stderr)
		os.Exit(2)
	case err != nil:
		log.Fatalf("%s failed: %v", args[0], err)
	}
}
