package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	caperrors "capstore/core/errors"
	"capstore/core/types"
)

// GenesisSpec is the operator-facing description of the first state.
type GenesisSpec struct {
	GenesisTime     string        `json:"genesisTime" yaml:"genesisTime"`
	ProtocolVersion uint64        `json:"protocolVersion" yaml:"protocolVersion"`
	SystemAccount   string        `json:"systemAccount" yaml:"systemAccount"`
	Accounts        []AccountSpec `json:"accounts" yaml:"accounts"`

	genesisTimestamp time.Time
	systemAccount    types.Address
	accounts         []GenesisAccount
}

// AccountSpec funds one account and optionally bonds part of its stake.
type AccountSpec struct {
	Address      string `json:"address" yaml:"address"`
	Balance      string `json:"balance" yaml:"balance"`
	BondedAmount string `json:"bondedAmount,omitempty" yaml:"bondedAmount,omitempty"`
}

// GenesisAccount is a validated AccountSpec.
type GenesisAccount struct {
	PublicKey    types.Address
	Balance      types.UInt512
	BondedAmount types.UInt512
}

// LoadGenesisSpec reads a JSON or YAML spec, chosen by file extension.
// Unknown fields are rejected in both formats.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time      { return s.genesisTimestamp }
func (s *GenesisSpec) SystemAccountAddr() types.Address { return s.systemAccount }

// GenesisAccounts returns the validated accounts in spec order.
func (s *GenesisSpec) GenesisAccounts() []GenesisAccount {
	return append([]GenesisAccount(nil), s.accounts...)
}

// Validate checks the spec and resolves its addresses and amounts.
func (s *GenesisSpec) Validate() error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w: %w", caperrors.ErrGenesisInvalid, err)
	}
	return nil
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if strings.TrimSpace(s.SystemAccount) == "" {
		return fmt.Errorf("systemAccount must be provided")
	}
	system, err := ParseAccount(s.SystemAccount)
	if err != nil {
		return fmt.Errorf("systemAccount: %w", err)
	}
	s.systemAccount = system

	seen := make(map[types.Address]struct{}, len(s.Accounts))
	seen[system] = struct{}{}
	accounts := make([]GenesisAccount, 0, len(s.Accounts))
	for i := range s.Accounts {
		acct, err := s.Accounts[i].resolve()
		if err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[acct.PublicKey]; dup {
			return fmt.Errorf("accounts[%d]: %w %s", i, caperrors.ErrDuplicateAccount, acct.PublicKey.Hex())
		}
		seen[acct.PublicKey] = struct{}{}
		accounts = append(accounts, acct)
	}
	s.accounts = accounts
	return nil
}

func (a *AccountSpec) resolve() (GenesisAccount, error) {
	if strings.TrimSpace(a.Address) == "" {
		return GenesisAccount{}, fmt.Errorf("address must be provided")
	}
	pub, err := ParseAccount(a.Address)
	if err != nil {
		return GenesisAccount{}, err
	}
	balance, err := parseAmountString(a.Balance)
	if err != nil {
		return GenesisAccount{}, fmt.Errorf("balance: %w", err)
	}
	bonded, err := parseAmountString(a.BondedAmount)
	if err != nil {
		return GenesisAccount{}, fmt.Errorf("bondedAmount: %w", err)
	}
	return GenesisAccount{PublicKey: pub, Balance: balance, BondedAmount: bonded}, nil
}

func parseAmountString(value string) (types.UInt512, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return types.UInt512{}, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return types.UInt512{}, fmt.Errorf("%w %q", caperrors.ErrInvalidAmount, value)
	}
	if amount.Sign() < 0 {
		return types.UInt512{}, fmt.Errorf("%w: amount must not be negative", caperrors.ErrInvalidAmount)
	}
	out, err := types.NewUInt512(amount)
	if err != nil {
		return types.UInt512{}, fmt.Errorf("%w: %w", caperrors.ErrInvalidAmount, err)
	}
	return out, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
