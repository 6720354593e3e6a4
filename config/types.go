package config

// TokenConfig registers a token on the ledger. Rate is an optional fixed
// conversion, in 1e9 units per protocol token, bound to the token through its
// RESERVE_TOKEN grant; reserve tokens without a rate are valued one-to-one.
type TokenConfig struct {
	Symbol   string `toml:"Symbol" yaml:"symbol"`
	Name     string `toml:"Name" yaml:"name"`
	Decimals uint8  `toml:"Decimals" yaml:"decimals"`
	Reserve  bool   `toml:"Reserve" yaml:"reserve"`
	Rate     string `toml:"Rate,omitempty" yaml:"rate,omitempty"`
}

// Grant activates a capability at genesis.
type Grant struct {
	Category string `toml:"Category" yaml:"category"`
	Address  string `toml:"Address" yaml:"address"`
}

// Permissions configures the capability registry.
type Permissions struct {
	TimelockBlocks uint64  `toml:"TimelockBlocks" yaml:"timelockBlocks"`
	Grants         []Grant `toml:"Grants" yaml:"grants"`
}

// Adjustment schedules control variable steps from genesis.
type Adjustment struct {
	Active bool   `toml:"Active" yaml:"active"`
	Rate   uint64 `toml:"Rate" yaml:"rate"`
	Target uint64 `toml:"Target" yaml:"target"`
	Buffer uint64 `toml:"Buffer" yaml:"buffer"`
}

// Bond configures the bond depository. Amounts are base-unit decimal strings.
type Bond struct {
	Principle       string     `toml:"Principle" yaml:"principle"`
	ControlVariable uint64     `toml:"ControlVariable" yaml:"controlVariable"`
	MinPrice        string     `toml:"MinPrice" yaml:"minPrice"`
	MaxPayout       string     `toml:"MaxPayout" yaml:"maxPayout"`
	MinPayout       string     `toml:"MinPayout" yaml:"minPayout"`
	FeeBps          uint64     `toml:"FeeBps" yaml:"feeBps"`
	RewardFeeBps    uint64     `toml:"RewardFeeBps" yaml:"rewardFeeBps"`
	MaxDebt         string     `toml:"MaxDebt" yaml:"maxDebt"`
	VestingTerm     uint64     `toml:"VestingTerm" yaml:"vestingTerm"`
	FloorPrice      string     `toml:"FloorPrice" yaml:"floorPrice"`
	Adjustment      Adjustment `toml:"Adjustment" yaml:"adjustment"`
}

// Rewards configures the reward distributor.
type Rewards struct {
	Asset string `toml:"Asset" yaml:"asset"`
}

// Pauses disables modules; paused modules reject every mutating request.
type Pauses struct {
	Permissions bool `toml:"Permissions" yaml:"permissions"`
	Treasury    bool `toml:"Treasury" yaml:"treasury"`
	Bond        bool `toml:"Bond" yaml:"bond"`
	Rewards     bool `toml:"Rewards" yaml:"rewards"`
	Staking     bool `toml:"Staking" yaml:"staking"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
}

// Indexer configures the event index. DSNs starting with postgres:// or
// postgresql:// select Postgres; anything else is a SQLite path.
type Indexer struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

// RPC configures the query server.
type RPC struct {
	RateLimit   float64 `toml:"RateLimit" yaml:"rateLimit"`
	Burst       int     `toml:"Burst" yaml:"burst"`
	ReadTimeout int     `toml:"ReadTimeout" yaml:"readTimeout"`
}
