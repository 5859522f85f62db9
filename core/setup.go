package core

import (
	"fmt"

	"arrayledger/config"
	nativecommon "arrayledger/native/common"
	"arrayledger/native/vault"
	"arrayledger/native/vault/adapters/lendingmarket"
	"arrayledger/native/vault/adapters/margin"
	"arrayledger/storage"
)

// Adapters builds the protocol adapters described by cfg. A protocol with no
// reserves or markets configured is not registered.
func Adapters(cfg *config.Config) ([]vault.ProtocolAdapter, error) {
	var out []vault.ProtocolAdapter
	if len(cfg.LendingMarket.Reserves) > 0 {
		reserves := make([]lendingmarket.Reserve, 0, len(cfg.LendingMarket.Reserves))
		for _, r := range cfg.LendingMarket.Reserves {
			reserves = append(reserves, lendingmarket.Reserve{ID: r.ID, Mint: r.Mint, Paused: r.Paused, SupplyCap: r.SupplyCap})
		}
		adapter, err := lendingmarket.New(reserves...)
		if err != nil {
			return nil, err
		}
		out = append(out, adapter)
	}
	if len(cfg.Margin.Markets) > 0 {
		markets := make([]margin.Market, 0, len(cfg.Margin.Markets))
		for _, m := range cfg.Margin.Markets {
			markets = append(markets, margin.Market{Index: m.Index, Mint: m.Mint, ReduceOnly: m.ReduceOnly})
		}
		adapter, err := margin.New(markets...)
		if err != nil {
			return nil, err
		}
		out = append(out, adapter)
	}
	return out, nil
}

// Open opens the LevelDB store under cfg.DataDir and returns a ledger wired
// with the configured pauses and adapters. The returned database must be
// closed by the caller once the ledger is no longer used.
func Open(cfg *config.Config, opts ...Option) (*Ledger, storage.Database, error) {
	adapters, err := Adapters(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol adapters: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	base := []Option{
		WithPauses(nativecommon.NewPauseSet(cfg.Paused...)),
		WithAdapters(adapters...),
	}
	return NewLedger(db, append(base, opts...)...), db, nil
}
