package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

// SeedData is the YAML document used to bootstrap the catalog and settlement accounts.
type SeedData struct {
	Packages     []SeedPackage     `yaml:"packages"`
	Items        []SeedItem        `yaml:"items"`
	BankAccounts []SeedBankAccount `yaml:"bank_accounts"`
}

type SeedPackage struct {
	ID       string   `yaml:"id"`
	Slug     string   `yaml:"slug"`
	Name     string   `yaml:"name"`
	Price    int64    `yaml:"price"`
	Features []string `yaml:"features"`
	Active   *bool    `yaml:"active"`
}

type SeedItem struct {
	ID           string `yaml:"id"`
	Slug         string `yaml:"slug"`
	Name         string `yaml:"name"`
	PriceType    string `yaml:"price_type"`
	Price        int64  `yaml:"price"`
	CategoryName string `yaml:"category_name"`
	AssetObject  string `yaml:"asset_object"`
	Active       *bool  `yaml:"active"`
}

type SeedBankAccount struct {
	ID            string `yaml:"id"`
	BankName      string `yaml:"bank_name"`
	AccountNumber string `yaml:"account_number"`
	AccountHolder string `yaml:"account_holder"`
	Active        *bool  `yaml:"active"`
	Position      int    `yaml:"position"`
}

// SeedResult counts upserted records.
type SeedResult struct {
	Packages     int
	Items        int
	BankAccounts int
}

// LoadSeedFile reads a seed document from disk.
func LoadSeedFile(path string) (SeedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedData{}, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

// DecodeSeed parses and validates a seed document. Unknown fields are rejected.
func DecodeSeed(r io.Reader) (SeedData, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var data SeedData
	if err := dec.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return SeedData{}, fmt.Errorf("seed: decode: %w", err)
	}
	if err := data.validate(); err != nil {
		return SeedData{}, err
	}
	return data, nil
}

func (d SeedData) validate() error {
	var problems []string
	for i, p := range d.Packages {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Sprintf("packages[%d]: id and name are required", i))
		}
		if p.Price <= 0 {
			problems = append(problems, fmt.Sprintf("packages[%d]: price must be positive", i))
		}
	}
	for i, item := range d.Items {
		if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Name) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: id and name are required", i))
		}
		switch domain.PriceType(item.PriceType) {
		case domain.PriceTypeFreebies:
		case domain.PriceTypePaid:
			if item.Price <= 0 {
				problems = append(problems, fmt.Sprintf("items[%d]: paid items need a positive price", i))
			}
		default:
			problems = append(problems, fmt.Sprintf("items[%d]: price_type must be freebies or paid", i))
		}
	}
	for i, acct := range d.BankAccounts {
		if strings.TrimSpace(acct.ID) == "" || strings.TrimSpace(acct.AccountNumber) == "" {
			problems = append(problems, fmt.Sprintf("bank_accounts[%d]: id and account_number are required", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("seed: invalid document: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ApplySeed upserts every record of the document. It is safe to run on every start.
func ApplySeed(ctx context.Context, catalog repositories.CatalogRepository, accounts repositories.BankAccountRepository, data SeedData) (SeedResult, error) {
	var result SeedResult
	for _, p := range data.Packages {
		pkg := domain.CatalogPackage{
			ID:       strings.TrimSpace(p.ID),
			Slug:     strings.TrimSpace(p.Slug),
			Name:     strings.TrimSpace(p.Name),
			Price:    p.Price,
			Features: p.Features,
			Active:   boolOrTrue(p.Active),
		}
		if err := catalog.UpsertPackage(ctx, pkg); err != nil {
			return result, fmt.Errorf("seed: package %s: %w", pkg.ID, err)
		}
		result.Packages++
	}
	for _, it := range data.Items {
		item := domain.CatalogItem{
			ID:           strings.TrimSpace(it.ID),
			Slug:         strings.TrimSpace(it.Slug),
			Name:         strings.TrimSpace(it.Name),
			PriceType:    domain.PriceType(it.PriceType),
			Price:        it.Price,
			CategoryName: strings.TrimSpace(it.CategoryName),
			AssetObject:  strings.TrimSpace(it.AssetObject),
			Active:       boolOrTrue(it.Active),
		}
		if err := catalog.UpsertItem(ctx, item); err != nil {
			return result, fmt.Errorf("seed: item %s: %w", item.ID, err)
		}
		result.Items++
	}
	for _, a := range data.BankAccounts {
		acct := domain.BankAccount{
			ID:            strings.TrimSpace(a.ID),
			BankName:      strings.TrimSpace(a.BankName),
			AccountNumber: strings.TrimSpace(a.AccountNumber),
			AccountHolder: strings.TrimSpace(a.AccountHolder),
			IsActive:      boolOrTrue(a.Active),
			Position:      a.Position,
		}
		if err := accounts.Upsert(ctx, acct); err != nil {
			return result, fmt.Errorf("seed: bank account %s: %w", acct.ID, err)
		}
		result.BankAccounts++
	}
	return result, nil
}

func boolOrTrue(v *bool) bool {
	return v == nil || *v
}
