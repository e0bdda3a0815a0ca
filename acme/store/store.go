package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme/keys"
	"github.com/certomat/certomat/acme/resources"
)

// ErrAccountNotFound indicates no usable cached account exists for the
// requested ACME server. Corrupt or unreadable cache entries surface the
// same way so callers fall back to fresh registration.
var ErrAccountNotFound = errors.New("no stored account found")

const (
	registrationFile = "registration.json"
	signerPlainFile  = "signer.json"
	signerEncFile    = "signer.enc"
	defaultPrefix    = "default_"
)

// Store persists registered accounts under a base directory, one
// subdirectory per account. When a passphrase is configured the account
// key material is encrypted at rest; the registration metadata never is.
//
// Layout:
//
//	<base>/<host>_<accountID>/registration.json
//	<base>/<host>_<accountID>/signer.json or signer.enc
//	<base>/default_<host>.txt
//
// The default_<host>.txt pointer names the subdirectory of the account
// last stored for that ACME server host.
type Store struct {
	baseDir    string
	passphrase string
	log        *zap.Logger
}

// New creates a Store rooted at baseDir. An empty passphrase stores key
// material in the clear. The logger may be nil.
func New(baseDir, passphrase string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseDir:    baseDir,
		passphrase: passphrase,
		log:        logger,
	}
}

// hostSlug flattens an ACME server host into a filesystem-safe name.
func hostSlug(host string) string {
	host = strings.TrimSpace(host)
	host = strings.ReplaceAll(host, ":", "-")
	return strings.ReplaceAll(host, ".", "-")
}

func (s *Store) defaultPointer(host string) string {
	return filepath.Join(s.baseDir, defaultPrefix+hostSlug(host)+".txt")
}

// Save writes the account's registration metadata and key material to
// disk and updates the default pointer for the given ACME server host.
func (s *Store) Save(acct *resources.Account, host string) error {
	if acct == nil || acct.Signer == nil {
		return fmt.Errorf("account and account key are required")
	}
	if acct.ID == "" {
		return fmt.Errorf("account has not been registered")
	}

	dirName := fmt.Sprintf("%s_%s", hostSlug(host), acct.AccountID())
	acctDir := filepath.Join(s.baseDir, dirName)
	if err := os.MkdirAll(acctDir, 0700); err != nil {
		return err
	}

	regJSON, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(acctDir, registrationFile), regJSON, 0600); err != nil {
		return err
	}

	keyBlob, err := acct.Signer.Export()
	if err != nil {
		return err
	}
	signerPath := filepath.Join(acctDir, signerPlainFile)
	if s.passphrase != "" {
		keyBlob, err = encrypt(keyBlob, s.passphrase)
		if err != nil {
			return err
		}
		signerPath = filepath.Join(acctDir, signerEncFile)
	}
	if err := os.WriteFile(signerPath, keyBlob, 0600); err != nil {
		return err
	}

	if err := os.WriteFile(s.defaultPointer(host), []byte(dirName+"\n"), 0600); err != nil {
		return err
	}

	s.log.Info("stored account",
		zap.String("id", acct.ID),
		zap.String("directory", acctDir),
		zap.Bool("encrypted", s.passphrase != ""))
	return nil
}

// LoadDefault loads the default account for the given ACME server host.
// Any failure short of a wrong passphrase is treated as a cache miss and
// returned as ErrAccountNotFound; a wrong passphrase is surfaced as
// ErrDecryptionFailed so the operator can correct it rather than
// silently re-register.
func (s *Store) LoadDefault(host string) (*resources.Account, error) {
	pointer, err := os.ReadFile(s.defaultPointer(host))
	if err != nil {
		return nil, ErrAccountNotFound
	}
	dirName := strings.TrimSpace(string(pointer))
	if dirName == "" {
		return nil, ErrAccountNotFound
	}
	return s.load(filepath.Join(s.baseDir, dirName))
}

func (s *Store) load(acctDir string) (*resources.Account, error) {
	regJSON, err := os.ReadFile(filepath.Join(acctDir, registrationFile))
	if err != nil {
		s.log.Warn("unable to read stored registration",
			zap.String("directory", acctDir), zap.Error(err))
		return nil, ErrAccountNotFound
	}
	var acct resources.Account
	if err := json.Unmarshal(regJSON, &acct); err != nil {
		s.log.Warn("stored registration is corrupt",
			zap.String("directory", acctDir), zap.Error(err))
		return nil, ErrAccountNotFound
	}

	keyBlob, encrypted, err := s.readSigner(acctDir)
	if err != nil {
		s.log.Warn("unable to read stored account key",
			zap.String("directory", acctDir), zap.Error(err))
		return nil, ErrAccountNotFound
	}
	if encrypted {
		keyBlob, err = decrypt(keyBlob, s.passphrase)
		if err != nil {
			return nil, err
		}
		// Sanity check the plaintext shape. A stale blob encrypted under
		// a different passphrase can slip past the padding check.
		if !bytes.HasPrefix(bytes.TrimSpace(keyBlob), []byte("{")) {
			return nil, ErrDecryptionFailed
		}
	}

	signer, err := keys.Import(keyBlob)
	if err != nil {
		s.log.Warn("stored account key is corrupt",
			zap.String("directory", acctDir), zap.Error(err))
		return nil, ErrAccountNotFound
	}
	acct.Signer = signer

	s.log.Debug("loaded stored account",
		zap.String("id", acct.ID),
		zap.String("directory", acctDir))
	return &acct, nil
}

// readSigner returns the key blob and whether it is encrypted. An
// encrypted blob with no configured passphrase is an error.
func (s *Store) readSigner(acctDir string) ([]byte, bool, error) {
	if blob, err := os.ReadFile(filepath.Join(acctDir, signerEncFile)); err == nil {
		if s.passphrase == "" {
			return nil, false, fmt.Errorf("stored key is encrypted but no passphrase is configured")
		}
		return blob, true, nil
	}
	blob, err := os.ReadFile(filepath.Join(acctDir, signerPlainFile))
	if err != nil {
		return nil, false, err
	}
	return blob, false, nil
}
