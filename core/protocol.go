package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bdnprotocol/config"
	"bdnprotocol/core/events"
	"bdnprotocol/core/ledger"
	"bdnprotocol/core/types"
	"bdnprotocol/crypto"
	"bdnprotocol/native/bond"
	"bdnprotocol/native/permissions"
	"bdnprotocol/native/rewards"
	"bdnprotocol/native/staking"
	"bdnprotocol/native/treasury"
	"bdnprotocol/observability"
	"bdnprotocol/observability/metrics"
	"bdnprotocol/storage"
)

// Module accounts. They are derived from fixed labels so every node agrees on
// them without configuration.
var (
	TreasuryAddress    = crypto.DeriveAddress("bdn/treasury")
	BondAddress        = crypto.DeriveAddress("bdn/bond-depository")
	DistributorAddress = crypto.DeriveAddress("bdn/reward-distributor")
	StakingVault       = crypto.DeriveAddress("bdn/staking-vault")
)

// CalculatorAddress returns the address a fixed-rate calculator configured
// for symbol is registered under.
func CalculatorAddress(symbol string) [20]byte {
	return crypto.DeriveAddress("calculator:" + normalizeSymbol(symbol))
}

// Sink receives the events of every request that applied successfully.
type Sink interface {
	Append(ctx context.Context, height uint64, op string, evts []*types.Event) error
}

// Receipt describes an applied request.
type Receipt struct {
	Op     string            `json:"op"`
	Block  uint64            `json:"block"`
	Root   string            `json:"root"`
	Events []*types.Event    `json:"events"`
	Result map[string]string `json:"result,omitempty"`
}

// Protocol owns the ledger and the engines and applies one request at a time.
type Protocol struct {
	mu sync.Mutex

	cfg      *config.Config
	ledger   *ledger.Ledger
	perms    *permissions.Registry
	treasury *treasury.Engine
	bond     *bond.Engine
	rewards  *rewards.Distributor
	staking  *staking.Ledger
	buffer   *events.Buffer
	sinks    []Sink
	logger   *slog.Logger

	owner       [20]byte
	dao         [20]byte
	rewardFeeTo [20]byte
}

// NewProtocol wires the engines over db. An empty store is initialised from
// cfg at height zero.
func NewProtocol(cfg *config.Config, db storage.Database, logger *slog.Logger) (*Protocol, error) {
	if cfg == nil {
		return nil, fmt.Errorf("protocol: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner, dao, rewardFeeTo, err := cfg.Addresses()
	if err != nil {
		return nil, fmt.Errorf("protocol: resolve addresses: %w", err)
	}
	l, err := ledger.Open(db)
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		cfg:         cfg,
		ledger:      l,
		buffer:      &events.Buffer{},
		logger:      logger.With("component", "protocol"),
		owner:       owner,
		dao:         dao,
		rewardFeeTo: rewardFeeTo,
	}
	if err := p.wire(); err != nil {
		return nil, err
	}
	tokens, err := l.State().TokenList()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		if l.CurrentBlock() != 0 {
			return nil, fmt.Errorf("protocol: store at height %d has no tokens", l.CurrentBlock())
		}
		if err := l.Atomic(p.genesis); err != nil {
			return nil, fmt.Errorf("protocol: genesis: %w", err)
		}
		p.logger.Info("genesis applied", slog.String("root", l.Root().Hex()))
	}
	p.buffer.Drain()
	return p, nil
}

func (p *Protocol) wire() error {
	st := p.ledger.State()
	pauses := p.cfg.Pauses.PauseSet()
	protocolAsset := p.cfg.ProtocolToken.Symbol

	p.perms = permissions.NewRegistry(p.owner, p.cfg.Permissions.TimelockBlocks)
	p.perms.SetState(st)
	p.perms.SetClock(p.ledger)
	p.perms.SetEmitter(p.buffer)
	p.perms.SetPauses(pauses)

	p.treasury = treasury.NewEngine(p.owner, TreasuryAddress, protocolAsset)
	p.treasury.SetState(st)
	p.treasury.SetLedger(p.ledger)
	p.treasury.SetPermissions(p.perms)
	p.treasury.SetEmitter(p.buffer)
	p.treasury.SetPauses(pauses)
	tav := treasury.NewTAVCalculator(p.ledger, protocolAsset, p.treasury)
	if err := p.treasury.SetTAVCalculator(p.owner, tav, "tav"); err != nil {
		return err
	}
	for _, token := range p.cfg.Tokens {
		rate, err := token.RateValue()
		if err != nil {
			return fmt.Errorf("token %s: %w", token.Symbol, err)
		}
		if rate == nil {
			continue
		}
		calc, err := treasury.NewFixedRateCalculator(p.ledger, protocolAsset, rate)
		if err != nil {
			return fmt.Errorf("token %s: %w", token.Symbol, err)
		}
		if err := p.treasury.RegisterCalculator(CalculatorAddress(token.Symbol), calc); err != nil {
			return err
		}
	}

	p.bond = bond.NewEngine(p.owner, BondAddress, p.cfg.Bond.Principle, protocolAsset)
	p.bond.SetState(st)
	p.bond.SetLedger(p.ledger)
	p.bond.SetTreasury(p.treasury)
	p.bond.SetEmitter(p.buffer)
	p.bond.SetPauses(pauses)
	if err := p.bond.SetTAVCalculator(p.owner, tav); err != nil {
		return err
	}
	if err := p.bond.SetFeeRecipients(p.owner, p.dao, p.rewardFeeTo); err != nil {
		return err
	}

	p.rewards = rewards.NewDistributor(p.owner, DistributorAddress, StakingVault, p.cfg.Rewards.Asset)
	p.rewards.SetState(st)
	p.rewards.SetLedger(p.ledger)
	p.rewards.SetFunding(p.treasury)
	p.rewards.SetEmitter(p.buffer)
	p.rewards.SetPauses(pauses)

	p.staking = staking.NewLedger(StakingVault, protocolAsset)
	p.staking.SetState(st)
	p.staking.SetTokens(p.ledger)
	p.staking.SetObserver(p.rewards)
	p.staking.SetEmitter(p.buffer)
	p.staking.SetPauses(pauses)

	p.bond.SetStaker(p.staking)
	return nil
}

// genesis registers the tokens, activates the module and configured
// capabilities and initialises the bond market.
func (p *Protocol) genesis() error {
	pt := p.cfg.ProtocolToken
	if err := p.ledger.RegisterToken(pt.Symbol, pt.Name, pt.Decimals); err != nil {
		return err
	}
	for _, token := range p.cfg.Tokens {
		if err := p.ledger.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return err
		}
		if !token.Reserve {
			continue
		}
		var calc [20]byte
		if token.Rate != "" {
			calc = CalculatorAddress(token.Symbol)
		}
		if err := p.perms.Bootstrap(permissions.ReserveToken, crypto.AssetAddress(token.Symbol), calc); err != nil {
			return fmt.Errorf("reserve token %s: %w", token.Symbol, err)
		}
	}
	if err := p.perms.Bootstrap(permissions.ReserveDepositor, BondAddress, [20]byte{}); err != nil {
		return err
	}
	if err := p.perms.Bootstrap(permissions.ReserveSpender, DistributorAddress, [20]byte{}); err != nil {
		return err
	}
	for _, grant := range p.cfg.Permissions.Grants {
		category, err := permissions.ParseCategory(grant.Category)
		if err != nil {
			return err
		}
		addr, err := crypto.ParseRaw(grant.Address)
		if err != nil {
			return fmt.Errorf("grant %s: %w", grant.Address, err)
		}
		if err := p.perms.Bootstrap(category, addr, [20]byte{}); err != nil {
			return fmt.Errorf("grant %s to %s: %w", category, grant.Address, err)
		}
	}

	terms, err := p.cfg.Bond.Terms()
	if err != nil {
		return err
	}
	if err := p.bond.InitializeBondTerms(p.owner, terms); err != nil {
		return err
	}
	floor, err := p.cfg.Bond.Floor()
	if err != nil {
		return err
	}
	if err := p.bond.SetFloorPriceValue(p.owner, floor); err != nil {
		return err
	}
	if adj := p.cfg.Bond.Adjustment; adj.Active {
		if err := p.bond.SetAdjustment(p.owner, true, adj.Rate, adj.Target, adj.Buffer, 0); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a sink for the events of applied requests.
func (p *Protocol) Subscribe(sink Sink) {
	if sink == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Height returns the block requests are currently applied at.
func (p *Protocol) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.CurrentBlock()
}

// Owner returns the administrator account.
func (p *Protocol) Owner() [20]byte { return p.owner }

// Execute applies req atomically. A failed request leaves the state and the
// event stream untouched.
func (p *Protocol) Execute(ctx context.Context, req Request) (*Receipt, error) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, "protocol.execute")
	defer span.End()
	span.SetAttributes(attribute.String("bdn.op", req.Op))

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	block := p.ledger.CurrentBlock()
	result, err := p.apply(req)
	emitted := p.buffer.Drain()
	kind := ErrorKind(err)
	observability.Protocol().Observe(req.Op, time.Since(start), kind)
	countRequest(ctx, req.Op, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		p.logger.Warn("request rejected",
			slog.String("op", req.Op),
			slog.Uint64("block", block),
			slog.String("kind", kind),
			slog.Any("error", err))
		return nil, err
	}

	rendered := make([]*types.Event, 0, len(emitted))
	for _, evt := range emitted {
		rendered = append(rendered, events.Render(evt))
		observability.Events().RecordEvent(evt.EventType())
	}
	receipt := &Receipt{
		Op:     req.Op,
		Block:  block,
		Root:   p.ledger.Root().Hex(),
		Events: rendered,
		Result: result,
	}
	for _, sink := range p.sinks {
		if err := sink.Append(ctx, block, req.Op, rendered); err != nil {
			p.logger.Error("event sink failed", slog.String("op", req.Op), slog.Any("error", err))
		}
	}
	p.publishGauges()
	p.logger.Info("request applied",
		slog.String("op", req.Op),
		slog.Uint64("block", block),
		slog.Int("events", len(rendered)),
		slog.Duration("duration", time.Since(start)))
	return receipt, nil
}

// publishGauges refreshes the ledger gauges. Read failures leave the previous
// values in place.
func (p *Protocol) publishGauges() {
	snap := metrics.Snapshot{
		Height:   p.ledger.CurrentBlock(),
		Supplies: map[string]*big.Int{},
	}
	if st, err := p.bond.State(); err == nil {
		snap.TotalDebt = st.TotalDebt
	}
	if price, err := p.bond.BondPrice(); err == nil {
		snap.BondPrice = price
	}
	if reserves, err := p.treasury.TotalReserves(); err == nil {
		snap.TotalReserves = reserves
	}
	if cycle, err := p.rewards.CurrentRewardCycle(); err == nil {
		snap.RewardCycle = cycle
	}
	if symbols, err := p.ledger.State().TokenList(); err == nil {
		for _, symbol := range symbols {
			if supply, err := p.ledger.TotalSupply(symbol); err == nil {
				snap.Supplies[symbol] = supply
			}
		}
	}
	metrics.Ledger().Publish(snap)
}
