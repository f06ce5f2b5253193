// Package artifacts loads the test contract's ABI and creation bytecode.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// ABIDir is the project-relative directory rindexer reads ABIs from.
const ABIDir = "abis"

// Artifact is one compiled contract.
type Artifact struct {
	Name     string
	RawABI   json.RawMessage
	ABI      abi.ABI
	Bytecode []byte
}

// HasEvent reports whether the ABI declares the named event.
func (a *Artifact) HasEvent(name string) bool {
	_, ok := a.ABI.Events[name]
	return ok
}

// CreationCode appends ABI-encoded constructor arguments to the bytecode.
func (a *Artifact) CreationCode(args ...interface{}) ([]byte, error) {
	if len(a.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: no bytecode for %s", domain.ErrNoArtifacts, a.Name)
	}
	packed, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode constructor arguments: %w", err)
	}
	return append(append([]byte{}, a.Bytecode...), packed...), nil
}

// foundryArtifact is the subset of a forge build output we read.
type foundryArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode struct {
		Object string `json:"object"`
	} `json:"bytecode"`
}

// Store resolves artifacts in one directory. Two layouts are accepted:
// a forge artifact <name>.json, or <name>.abi.json next to <name>.bin.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Load reads the named artifact. The bytecode may be empty when only an
// ABI is present; LoadDeployable rejects that case.
func (s *Store) Load(name string) (*Artifact, error) {
	if art, err := s.loadFoundry(name); err == nil {
		return art, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	rawABI, err := os.ReadFile(s.ABIPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrNoArtifacts, name, s.dir)
		}
		return nil, fmt.Errorf("failed to read ABI: %w", err)
	}
	art, err := newArtifact(name, rawABI, "")
	if err != nil {
		return nil, err
	}

	bin, err := os.ReadFile(filepath.Join(s.dir, name+".bin"))
	switch {
	case err == nil:
		art.Bytecode = common.FromHex(string(bytes.TrimSpace(bin)))
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read bytecode: %w", err)
	}
	return art, nil
}

// LoadDeployable is Load that also requires creation bytecode.
func (s *Store) LoadDeployable(name string) (*Artifact, error) {
	art, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	if len(art.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: no bytecode for %s (expected %s.bin or a forge artifact)",
			domain.ErrNoArtifacts, name, name)
	}
	return art, nil
}

func (s *Store) loadFoundry(name string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if err != nil {
		return nil, err
	}
	var fa foundryArtifact
	if err := json.Unmarshal(data, &fa); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	return newArtifact(name, fa.ABI, fa.Bytecode.Object)
}

// ABIPath is where the plain ABI for name lives in this store.
func (s *Store) ABIPath(name string) string {
	return filepath.Join(s.dir, name+".abi.json")
}

// CopyABI writes the artifact's ABI into <projectDir>/abis and returns the
// project-relative path rindexer.yaml should reference.
func (s *Store) CopyABI(name, projectDir string) (string, error) {
	art, err := s.Load(name)
	if err != nil {
		return "", err
	}
	return WriteABI(art, projectDir)
}

// WriteABI writes art's ABI into <projectDir>/abis.
func WriteABI(art *Artifact, projectDir string) (string, error) {
	dir := filepath.Join(projectDir, ABIDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create abis directory: %w", err)
	}
	file := art.Name + ".abi.json"
	if err := os.WriteFile(filepath.Join(dir, file), art.RawABI, 0o644); err != nil {
		return "", fmt.Errorf("failed to write ABI: %w", err)
	}
	return "./" + ABIDir + "/" + file, nil
}

func newArtifact(name string, rawABI json.RawMessage, bytecode string) (*Artifact, error) {
	if len(rawABI) == 0 {
		return nil, fmt.Errorf("artifact %s has no ABI", name)
	}
	parsed, err := abi.JSON(bytes.NewReader(rawABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI for %s: %w", name, err)
	}
	art := &Artifact{Name: name, RawABI: rawABI, ABI: parsed}
	if code := strings.TrimSpace(bytecode); code != "" && code != "0x" {
		art.Bytecode = common.FromHex(code)
	}
	return art, nil
}
