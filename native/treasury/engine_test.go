package treasury

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/core/events"
	"bdnprotocol/core/ledger"
	"bdnprotocol/crypto"
	"bdnprotocol/native/permissions"
	"bdnprotocol/storage"
)

var (
	owner     = testAddress(0x01)
	custody   = testAddress(0x7E)
	depositor = testAddress(0xD0)
	spender   = testAddress(0x5E)
	manager   = testAddress(0x3A)
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	ledger   *ledger.Ledger
	registry *permissions.Registry
	engine   *Engine
	events   *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := ledger.Open(db)
	require.NoError(t, err)
	require.NoError(t, l.RegisterToken("BDN", "Bond Token", 9))
	require.NoError(t, l.RegisterToken("MIM", "Magic Internet Money", 18))
	require.NoError(t, l.RegisterToken("USDC", "USD Coin", 6))

	registry := permissions.NewRegistry(owner, 5)
	registry.SetState(l.State())
	registry.SetClock(l)
	require.NoError(t, registry.Bootstrap(permissions.ReserveDepositor, depositor, [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.ReserveToken, crypto.AssetAddress("MIM"), [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.ReserveSpender, spender, [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.RewardManager, manager, [20]byte{}))

	buf := &events.Buffer{}
	engine := NewEngine(owner, custody, "bdn")
	engine.SetState(l.State())
	engine.SetLedger(l)
	engine.SetPermissions(registry)
	engine.SetEmitter(buf)
	require.NoError(t, engine.SetTAVCalculator(owner, NewTAVCalculator(l, "BDN", engine), "tav"))
	buf.Drain()

	require.NoError(t, l.Mint("MIM", depositor, e18(1_000_000)))
	require.NoError(t, l.Mint("USDC", depositor, big.NewInt(5_000_000_000)))
	return &fixture{ledger: l, registry: registry, engine: engine, events: buf}
}

func balance(t *testing.T, l *ledger.Ledger, asset string, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := l.BalanceOf(asset, addr)
	require.NoError(t, err)
	return bal
}

func TestDepositMintsAgainstNormalisedValue(t *testing.T) {
	f := newFixture(t)

	// 1,000,000 MIM (18 decimals) is worth 1,000,000 BDN (9 decimals).
	profit, err := f.engine.Deposit(depositor, e18(1_000_000), "mim", big.NewInt(1_000_000_000_000_000))
	require.NoError(t, err)
	require.Zero(t, profit.Sign())

	require.Equal(t, big.NewInt(1_000_000_000_000_000), balance(t, f.ledger, "BDN", depositor))
	require.Equal(t, e18(1_000_000), balance(t, f.ledger, "MIM", custody))
	require.Zero(t, balance(t, f.ledger, "MIM", depositor).Sign())

	reserves, err := f.engine.TotalReserves()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000_000_000), reserves)

	account, err := f.engine.Reserve("MIM")
	require.NoError(t, err)
	require.Equal(t, e18(1_000_000), account.TotalDeposited)
	require.Equal(t, big.NewInt(1_000_000_000_000_000), account.TotalValueBacked)

	tav, err := f.engine.TAV()
	require.NoError(t, err)
	require.Equal(t, PricePrecision, tav)

	emitted := f.events.Drain()
	require.Len(t, emitted, 1)
	require.Equal(t, events.TypeTreasuryDeposit, emitted[0].EventType())
}

func TestDepositRejectsMintAboveBacking(t *testing.T) {
	f := newFixture(t)
	root := f.ledger.Root()

	_, err := f.engine.Deposit(depositor, e18(10), "MIM", big.NewInt(10_000_000_001))
	require.True(t, errors.Is(err, ErrExceedsBacking), "got %v", err)
	require.Equal(t, root, f.ledger.Root())
	require.Empty(t, f.events.Drain())
}

func TestDepositRequiresPermissions(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Deposit(testAddress(0x99), e18(1), "MIM", big.NewInt(1))
	require.ErrorIs(t, err, permissions.ErrPermissionDenied)

	_, err = f.engine.Deposit(depositor, big.NewInt(1_000_000), "USDC", big.NewInt(1))
	require.ErrorIs(t, err, permissions.ErrPermissionDenied)
}

func TestManageLimitedToExcessReserves(t *testing.T) {
	f := newFixture(t)

	profit, err := f.engine.Deposit(depositor, e18(1_000), "MIM", big.NewInt(900_000_000_000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100_000_000_000), profit)

	excess, err := f.engine.ExcessReserves()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100_000_000_000), excess)

	err = f.engine.Manage(spender, e18(101), "MIM", testAddress(0xEE))
	require.ErrorIs(t, err, ErrInsufficientReserves)

	require.NoError(t, f.engine.Manage(spender, e18(100), "MIM", testAddress(0xEE)))
	require.Equal(t, e18(100), balance(t, f.ledger, "MIM", testAddress(0xEE)))

	excess, err = f.engine.ExcessReserves()
	require.NoError(t, err)
	require.Zero(t, excess.Sign())

	err = f.engine.Manage(manager, e18(1), "MIM", manager)
	require.ErrorIs(t, err, permissions.ErrPermissionDenied)
}

func TestWithdrawBurnsValue(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Deposit(depositor, e18(100), "MIM", big.NewInt(100_000_000_000))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Transfer("BDN", depositor, spender, big.NewInt(40_000_000_000)))

	require.NoError(t, f.engine.Withdraw(spender, e18(40), "MIM"))
	require.Zero(t, balance(t, f.ledger, "BDN", spender).Sign())
	require.Equal(t, e18(40), balance(t, f.ledger, "MIM", spender))

	supply, err := f.engine.ProtocolSupply()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60_000_000_000), supply)

	err = f.engine.Withdraw(spender, e18(61), "MIM")
	require.ErrorIs(t, err, ErrInsufficientReserves)
}

func TestMintRewardsBoundedByExcess(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Deposit(depositor, e18(100), "MIM", big.NewInt(50_000_000_000))
	require.NoError(t, err)

	err = f.engine.MintRewards(manager, testAddress(0xAB), big.NewInt(50_000_000_001))
	require.ErrorIs(t, err, ErrInsufficientReserves)
	require.NoError(t, f.engine.MintRewards(manager, testAddress(0xAB), big.NewInt(50_000_000_000)))
	require.Equal(t, big.NewInt(50_000_000_000), balance(t, f.ledger, "BDN", testAddress(0xAB)))

	err = f.engine.MintRewards(spender, spender, big.NewInt(1))
	require.ErrorIs(t, err, permissions.ErrPermissionDenied)
}

func TestBoundCalculatorOverridesDefault(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := ledger.Open(db)
	require.NoError(t, err)
	require.NoError(t, l.RegisterToken("BDN", "Bond Token", 9))
	require.NoError(t, l.RegisterToken("USDC", "USD Coin", 6))

	calcAddr := crypto.DeriveAddress("calculator:USDC")
	registry := permissions.NewRegistry(owner, 0)
	registry.SetState(l.State())
	registry.SetClock(l)
	require.NoError(t, registry.Bootstrap(permissions.ReserveDepositor, depositor, [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.ReserveToken, crypto.AssetAddress("USDC"), calcAddr))

	engine := NewEngine(owner, custody, "BDN")
	engine.SetState(l.State())
	engine.SetLedger(l)
	engine.SetPermissions(registry)
	require.NoError(t, engine.SetTAVCalculator(owner, NewTAVCalculator(l, "BDN", engine), "tav"))

	_, err = engine.ValueOf(big.NewInt(1), "USDC")
	require.ErrorIs(t, err, ErrNoCalculator)

	// Half a BDN per USDC.
	calc, err := NewFixedRateCalculator(l, "BDN", big.NewInt(500_000_000))
	require.NoError(t, err)
	require.NoError(t, engine.RegisterCalculator(calcAddr, calc))

	value, err := engine.ValueOf(big.NewInt(2_000_000), "USDC")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), value)
}

func TestSetTAVCalculatorOwnerOnly(t *testing.T) {
	f := newFixture(t)
	err := f.engine.SetTAVCalculator(depositor, NewDecimalCalculator(f.ledger, "BDN"), "decimal")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, f.engine.SetTAVCalculator(owner, NewDecimalCalculator(f.ledger, "BDN"), "decimal"))

	// The decimal calculator has no TAV; the engine falls back to the reserve ratio.
	tav, err := f.engine.TAV()
	require.NoError(t, err)
	require.Equal(t, PricePrecision, tav)
}
