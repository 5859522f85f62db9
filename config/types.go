package config

// LendingMarket lists the reserves of the integrated lending market.
type LendingMarket struct {
	Reserves []Reserve `toml:"Reserves"`
}

// Reserve configures one lending reserve.
type Reserve struct {
	ID        string `toml:"ID"`
	Mint      string `toml:"Mint"`
	Paused    bool   `toml:"Paused"`
	SupplyCap uint64 `toml:"SupplyCap"`
}

// Margin lists the spot markets of the integrated margin venue.
type Margin struct {
	Markets []Market `toml:"Markets"`
}

// Market configures one spot market.
type Market struct {
	Index      uint16 `toml:"Index"`
	Mint       string `toml:"Mint"`
	ReduceOnly bool   `toml:"ReduceOnly"`
}
