// Package identity provisions the single keypair prt authenticates with.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"prt/internal/console"
	"prt/internal/errors"
	"prt/internal/logging"
)

// Keypair locates the shared identity files
type Keypair struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

// Provisioner makes sure a keypair exists in the state directory
type Provisioner struct {
	Dir     string
	Keypair Keypair
	Bits    int

	// Generate creates the private key; tests replace it to observe calls.
	Generate func(bits int) (*rsa.PrivateKey, error)

	Console *console.Console
	Logger  *logging.Logger
}

// NewProvisioner creates a provisioner for the given state directory and key paths
func NewProvisioner(dir string, keys Keypair, bits int, c *console.Console, logger *logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Provisioner{
		Dir:     dir,
		Keypair: keys,
		Bits:    bits,
		Generate: func(bits int) (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, bits)
		},
		Console: c,
		Logger:  logger,
	}
}

// Ensure returns the keypair when the private key already exists. Otherwise
// it writes a new keypair and returns IdentityGeneratedError: the new public
// key has to be installed on every host before anything can authenticate.
func (p *Provisioner) Ensure() (Keypair, error) {
	if _, err := os.Stat(p.Keypair.PrivateKeyPath); err == nil {
		p.println(p.success("PRT Pool Key Found"))
		return p.Keypair, nil
	} else if !os.IsNotExist(err) {
		return Keypair{}, &errors.SetupError{Message: "failed to inspect private key", Err: err}
	}

	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return Keypair{}, &errors.SetupError{Message: fmt.Sprintf("failed to create state directory %s", p.Dir), Err: err}
	}

	p.println(p.warning("No PRT Key Found!"))
	p.println("Generating RSA Key...")
	key, err := p.Generate(p.Bits)
	if err != nil {
		return Keypair{}, &errors.SetupError{Message: "failed to generate RSA key", Err: err}
	}

	p.println("Exporting Private Key...")
	if err := writePrivateKey(p.Keypair.PrivateKeyPath, key); err != nil {
		return Keypair{}, err
	}

	p.println("Exporting Public Key...")
	if err := writePublicKey(p.Keypair.PublicKeyPath, key); err != nil {
		// Without its public half the key would be reported as found next run.
		if rmErr := os.Remove(p.Keypair.PrivateKeyPath); rmErr != nil {
			p.Logger.Error("failed to remove orphaned private key", "error", rmErr.Error())
		}
		return Keypair{}, err
	}

	p.Logger.Info("identity generated", "bits", p.Bits)
	p.println(p.bold("You Must Now Copy The Newly Generated Public Key To Each Machine In Your Host Pool."))
	return p.Keypair, &errors.IdentityGeneratedError{PublicKeyPath: p.Keypair.PublicKeyPath}
}

func writePrivateKey(path string, key *rsa.PrivateKey) error {
	block, err := ssh.MarshalPrivateKey(key, "prt")
	if err != nil {
		return &errors.SetupError{Message: "failed to encode private key", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &errors.SetupError{Message: "failed to create key directory", Err: err}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return &errors.SetupError{Message: fmt.Sprintf("failed to write private key %s", path), Err: err}
	}
	return nil
}

func writePublicKey(path string, key *rsa.PrivateKey) error {
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return &errors.SetupError{Message: "failed to encode public key", Err: err}
	}
	if err := os.WriteFile(path, ssh.MarshalAuthorizedKey(pub), 0o644); err != nil {
		return &errors.SetupError{Message: fmt.Sprintf("failed to write public key %s", path), Err: err}
	}
	return nil
}

func (p *Provisioner) println(line string) {
	if p.Console != nil {
		p.Console.Println(line)
	}
}

func (p *Provisioner) success(s string) string {
	if p.Console == nil {
		return s
	}
	return p.Console.Success(s)
}

func (p *Provisioner) warning(s string) string {
	if p.Console == nil {
		return s
	}
	return p.Console.Warning(s)
}

func (p *Provisioner) bold(s string) string {
	if p.Console == nil {
		return s
	}
	return p.Console.Bold(s)
}
