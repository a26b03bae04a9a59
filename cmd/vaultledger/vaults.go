package main

import (
	"encoding/json"
	"fmt"
	"os"

	"VaultLedger/internal/core"
	"VaultLedger/internal/custody"
	"VaultLedger/internal/escrow"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// rateJSON is a rational rate in the config file.
type rateJSON struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

func (r rateJSON) toRate() fpmath.Rate {
	return fpmath.NewRate(r.Num, r.Den)
}

// vaultConfig describes one vault to register at startup. Vaults are part
// of the deployment, not runtime state: the snapshot carries their
// positions and pool counters but never their wiring, so the config file
// must list every vault the event log has ever referenced.
type vaultConfig struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // nft | fungible | semi_fungible

	// PriceSymbol names the oracle feed backing the vault's collateral.
	PriceSymbol string `json:"price_symbol"`

	// AuctionSymbol names the optional feed used to convert sweep debt
	// into the auction's pricing unit. NFT vaults only.
	AuctionSymbol string `json:"auction_symbol,omitempty"`

	CreditRate      rateJSON `json:"credit_rate"`
	LiquidationRate rateJSON `json:"liquidation_rate"`

	DebtInterestAPR                 rateJSON `json:"debt_interest_apr"`
	OrganizationFeeRate             rateJSON `json:"organization_fee_rate"`
	InsurancePurchaseRate           rateJSON `json:"insurance_purchase_rate"`
	InsuranceLiquidationPenaltyRate rateJSON `json:"insurance_liquidation_penalty_rate"`
	InsuranceRepurchaseTimeLimit    int64    `json:"insurance_repurchase_time_limit"`
	BorrowAmountCap                 int64    `json:"borrow_amount_cap"`

	// CreatedAt seeds the accrual clock (unix seconds). Must not change
	// across restarts or replayed interest will diverge.
	CreatedAt int64 `json:"created_at"`

	Liquidators []string `json:"liquidators"`
	Admins      []string `json:"admins"`
}

func loadVaultConfigs(path string) ([]vaultConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault config: %w", err)
	}

	var cfgs []vaultConfig
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("parse vault config %s: %w", path, err)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("vault config %s lists no vaults", path)
	}
	return cfgs, nil
}

// registerVaults builds and registers a runtime for each configured vault.
// All vaults share the core's stablecoin ledger and price state.
func registerVaults(c *core.VaultCore, cfgs []vaultConfig, auction escrow.Auction, log zerolog.Logger) error {
	for _, cfg := range cfgs {
		roles, err := buildRoles(cfg)
		if err != nil {
			return fmt.Errorf("vault %s: %w", cfg.ID, err)
		}

		settings := vault.Settings{
			DebtInterestAPR:                 cfg.DebtInterestAPR.toRate(),
			OrganizationFeeRate:             cfg.OrganizationFeeRate.toRate(),
			InsurancePurchaseRate:           cfg.InsurancePurchaseRate.toRate(),
			InsuranceLiquidationPenaltyRate: cfg.InsuranceLiquidationPenaltyRate.toRate(),
			InsuranceRepurchaseTimeLimit:    cfg.InsuranceRepurchaseTimeLimit,
			BorrowAmountCap:                 cfg.BorrowAmountCap,
		}

		var rt core.Runtime
		switch cfg.Kind {
		case "nft":
			value := oracle.NewCollectionValueProvider(c.Prices(), cfg.PriceSymbol,
				cfg.CreditRate.toRate(), cfg.LiquidationRate.toRate())
			cust := custody.NewNFTCustody(cfg.ID)
			v, err := vault.NewVault[vault.NFTKey](cfg.ID, settings, cfg.CreatedAt, value, c.Coin(), cust, roles)
			if err != nil {
				return fmt.Errorf("vault %s: %w", cfg.ID, err)
			}
			sweeper := escrow.NewLiquidator(v, auction, c.Prices(), cfg.AuctionSymbol, log)
			rt = core.NewNFTRuntime(v, cust, sweeper, log)

		case "fungible":
			value := oracle.NewTokenValueProvider(c.Prices(), cfg.PriceSymbol,
				cfg.CreditRate.toRate(), cfg.LiquidationRate.toRate())
			cust := custody.NewFungibleCustody(cfg.ID)
			v, err := vault.NewVault[vault.FungibleKey](cfg.ID, settings, cfg.CreatedAt, value, c.Coin(), cust, roles)
			if err != nil {
				return fmt.Errorf("vault %s: %w", cfg.ID, err)
			}
			rt = core.NewFungibleRuntime(v, cust)

		case "semi_fungible":
			value := oracle.NewTokenValueProvider(c.Prices(), cfg.PriceSymbol,
				cfg.CreditRate.toRate(), cfg.LiquidationRate.toRate())
			cust := custody.NewSemiFungibleCustody(cfg.ID)
			v, err := vault.NewVault[vault.SemiFungibleKey](cfg.ID, settings, cfg.CreatedAt, value, c.Coin(), cust, roles)
			if err != nil {
				return fmt.Errorf("vault %s: %w", cfg.ID, err)
			}
			rt = core.NewSemiFungibleRuntime(v, cust)

		default:
			return fmt.Errorf("vault %s: unknown kind %q", cfg.ID, cfg.Kind)
		}

		if err := c.RegisterVault(rt); err != nil {
			return fmt.Errorf("register vault %s: %w", cfg.ID, err)
		}
		log.Info().Str("vault", cfg.ID).Str("kind", cfg.Kind).Msg("vault registered")
	}

	return nil
}

func buildRoles(cfg vaultConfig) (*vault.StaticRoles, error) {
	roles := vault.NewStaticRoles()

	for _, s := range cfg.Liquidators {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("liquidator %q: %w", s, err)
		}
		roles.Grant(vault.RoleLiquidator, id)
	}

	for _, s := range cfg.Admins {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", s, err)
		}
		roles.Grant(vault.RoleDAO, id)
		roles.Grant(vault.RoleSetter, id)
	}

	return roles, nil
}
