package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"authgate/internal/domain"
)

type accountFile struct {
	Accounts []struct {
		Username     string   `yaml:"username"`
		PasswordHash string   `yaml:"password_hash"`
		Salt         string   `yaml:"salt"`
		ID           string   `yaml:"id"`
		Name         string   `yaml:"name"`
		Type         string   `yaml:"type"`
		Roles        []string `yaml:"roles"`
		Disabled     bool     `yaml:"disabled"`
	} `yaml:"accounts"`
}

// LoadAccounts reads the stored credentials file. An empty path yields no accounts.
func LoadAccounts(path string) ([]domain.Account, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	accts, err := ParseAccounts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return accts, nil
}

// ParseAccounts decodes accounts YAML.
func ParseAccounts(data []byte) ([]domain.Account, error) {
	var f accountFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding accounts: %v: %w", err, domain.ErrBadArgument)
	}

	accts := make([]domain.Account, 0, len(f.Accounts))
	seen := make(map[string]struct{}, len(f.Accounts))
	for i, a := range f.Accounts {
		if a.Username == "" || a.PasswordHash == "" {
			return nil, fmt.Errorf("account %d: username and password_hash are required: %w", i, domain.ErrBadArgument)
		}
		if _, dup := seen[a.Username]; dup {
			return nil, fmt.Errorf("account %d: duplicate username %q: %w", i, a.Username, domain.ErrBadArgument)
		}
		seen[a.Username] = struct{}{}

		ptype := domain.PrincipalUnknown
		if a.Type != "" {
			ptype = domain.ParsePrincipalType(a.Type)
		}
		accts = append(accts, domain.Account{
			Username:     a.Username,
			PasswordHash: a.PasswordHash,
			Salt:         a.Salt,
			ID:           a.ID,
			Name:         a.Name,
			Type:         ptype,
			Roles:        a.Roles,
			Disabled:     a.Disabled,
		})
	}
	return accts, nil
}
