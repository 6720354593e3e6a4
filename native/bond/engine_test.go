package bond

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/core/events"
	"bdnprotocol/core/ledger"
	"bdnprotocol/crypto"
	"bdnprotocol/native/permissions"
	"bdnprotocol/native/treasury"
	"bdnprotocol/storage"
)

var (
	owner       = testAddress(0x01)
	dao         = testAddress(0xDA)
	rewardsAddr = testAddress(0xEF)
	custody     = testAddress(0x7E)
	depository  = testAddress(0xB0)
	reserveBank = testAddress(0xC0)
	user        = testAddress(0x11)
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

type recordingStaker struct {
	ledger *ledger.Ledger
	vault  [20]byte
	staked map[[20]byte]*big.Int
}

func (s *recordingStaker) Stake(caller, recipient [20]byte, amount *big.Int) error {
	if err := s.ledger.Transfer("BDN", caller, s.vault, amount); err != nil {
		return err
	}
	if s.staked[recipient] == nil {
		s.staked[recipient] = big.NewInt(0)
	}
	s.staked[recipient].Add(s.staked[recipient], amount)
	return nil
}

type fixture struct {
	ledger   *ledger.Ledger
	treasury *treasury.Engine
	engine   *Engine
	events   *events.Buffer
}

func defaultTerms() Terms {
	return Terms{
		ControlVariable: 100,
		MinPrice:        big.NewInt(0),
		MaxPayout:       e18(500_000),
		MinPayout:       big.NewInt(1_000_000),
		FeeBps:          100,
		RewardFeeBps:    100,
		MaxDebt:         e18(1_000_000),
		VestingTerm:     10,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := ledger.Open(db)
	require.NoError(t, err)
	require.NoError(t, l.RegisterToken("BDN", "Bond Token", 18))
	require.NoError(t, l.RegisterToken("MIM", "Magic Internet Money", 18))

	registry := permissions.NewRegistry(owner, 0)
	registry.SetState(l.State())
	registry.SetClock(l)
	require.NoError(t, registry.Bootstrap(permissions.ReserveToken, crypto.AssetAddress("MIM"), [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.ReserveDepositor, reserveBank, [20]byte{}))
	require.NoError(t, registry.Bootstrap(permissions.ReserveDepositor, depository, [20]byte{}))

	tr := treasury.NewEngine(owner, custody, "BDN")
	tr.SetState(l.State())
	tr.SetLedger(l)
	tr.SetPermissions(registry)
	tav := treasury.NewTAVCalculator(l, "BDN", tr)
	require.NoError(t, tr.SetTAVCalculator(owner, tav, "tav"))

	require.NoError(t, l.Mint("MIM", reserveBank, e18(1_000_000)))
	_, err = tr.Deposit(reserveBank, e18(1_000_000), "MIM", e18(1_000_000))
	require.NoError(t, err)
	require.NoError(t, l.Mint("MIM", user, e18(1_000_000)))

	buf := &events.Buffer{}
	engine := NewEngine(owner, depository, "MIM", "BDN")
	engine.SetState(l.State())
	engine.SetLedger(l)
	engine.SetTreasury(tr)
	engine.SetEmitter(buf)
	require.NoError(t, engine.SetTAVCalculator(owner, tav))
	require.NoError(t, engine.SetFeeRecipients(owner, dao, rewardsAddr))
	require.NoError(t, engine.InitializeBondTerms(owner, defaultTerms()))
	require.NoError(t, engine.SetFloorPriceValue(owner, big.NewInt(1_000_000_000)))
	return &fixture{ledger: l, treasury: tr, engine: engine, events: buf}
}

func (f *fixture) balance(t *testing.T, asset string, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := f.ledger.BalanceOf(asset, addr)
	require.NoError(t, err)
	return bal
}

func (f *fixture) advance(t *testing.T, n uint64) {
	t.Helper()
	_, err := f.ledger.AdvanceBlocks(n)
	require.NoError(t, err)
}

func TestDepositCreatesBondAndRaisesDebt(t *testing.T) {
	f := newFixture(t)

	price, err := f.engine.BondPrice()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), price)

	payout, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(1_100_000_000), user)
	require.NoError(t, err)
	// 1% fee and 1% reward fee leave 980,000,000 at a price of one.
	require.Equal(t, big.NewInt(980_000_000), payout)

	st, err := f.engine.State()
	require.NoError(t, err)
	require.Equal(t, payout, st.TotalDebt)

	position, err := f.engine.BondInfo(user)
	require.NoError(t, err)
	require.Equal(t, payout, position.Payout)
	require.Equal(t, f.ledger.CurrentBlock()+10, position.VestingEndBlock)

	require.Equal(t, big.NewInt(10_000_000), f.balance(t, "MIM", dao))
	require.Equal(t, big.NewInt(10_000_000), f.balance(t, "MIM", rewardsAddr))
	require.Equal(t, payout, f.balance(t, "BDN", depository))

	emitted := f.events.Drain()
	require.Len(t, emitted, 2)
	require.Equal(t, events.TypeBondCreated, emitted[0].EventType())
	require.Equal(t, events.TypeBondPriceChanged, emitted[1].EventType())
}

func TestDepositGuardsLeaveStateUntouched(t *testing.T) {
	cases := []struct {
		name     string
		setup    func(t *testing.T, f *fixture)
		amount   *big.Int
		maxPrice *big.Int
		want     error
	}{
		{
			name:     "slippage",
			amount:   big.NewInt(1_000_000_000),
			maxPrice: big.NewInt(999_999_999),
			want:     ErrSlippageExceeded,
		},
		{
			name: "max debt",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.engine.SetBondTerm(owner, ParamMaxDebt, big.NewInt(500_000_000)))
			},
			amount:   big.NewInt(1_000_000_000),
			maxPrice: big.NewInt(2_000_000_000),
			want:     ErrMaxDebtExceeded,
		},
		{
			name:     "payout below minimum",
			amount:   big.NewInt(1_000),
			maxPrice: big.NewInt(2_000_000_000),
			want:     ErrPayoutOutOfRange,
		},
		{
			name:     "payout above maximum",
			amount:   e18(600_000),
			maxPrice: big.NewInt(2_000_000_000),
			want:     ErrPayoutOutOfRange,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(t, f)
			}
			root := f.ledger.Root()
			_, err := f.engine.Deposit(user, tc.amount, tc.maxPrice, user)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, root, f.ledger.Root())
			require.Empty(t, f.events.Drain())
		})
	}
}

func TestTotalDebtNeverExceedsMaxDebt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetBondTerm(owner, ParamMaxDebt, big.NewInt(2_500_000_000)))

	for i := 0; i < 4; i++ {
		_, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
		st, stateErr := f.engine.State()
		require.NoError(t, stateErr)
		require.LessOrEqual(t, st.TotalDebt.Cmp(st.Terms.MaxDebt), 0)
		if i < 2 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, ErrMaxDebtExceeded)
		}
	}
}

func TestRedeemVestsLinearly(t *testing.T) {
	f := newFixture(t)
	payout, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
	require.NoError(t, err)

	f.advance(t, 5)
	pct, err := f.engine.PercentVestedFor(user)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), pct)

	half := new(big.Int).Quo(payout, big.NewInt(2))
	released, err := f.engine.Redeem(user, false)
	require.NoError(t, err)
	require.LessOrEqual(t, released.Cmp(half), 0)
	require.Equal(t, released, f.balance(t, "BDN", user))

	f.advance(t, 5)
	rest, err := f.engine.Redeem(user, false)
	require.NoError(t, err)
	require.Equal(t, payout, new(big.Int).Add(released, rest))
	require.Equal(t, payout, f.balance(t, "BDN", user))

	_, err = f.engine.BondInfo(user)
	require.ErrorIs(t, err, ErrNoBond)
	_, err = f.engine.Redeem(user, false)
	require.ErrorIs(t, err, ErrNoBond)
}

func TestRedeemAfterTermReleasesEverything(t *testing.T) {
	f := newFixture(t)
	payout, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
	require.NoError(t, err)

	f.advance(t, 25)
	pending, err := f.engine.PendingPayoutFor(user)
	require.NoError(t, err)
	require.Equal(t, payout, pending)

	released, err := f.engine.Redeem(user, false)
	require.NoError(t, err)
	require.Equal(t, payout, released)
	_, err = f.engine.BondInfo(user)
	require.ErrorIs(t, err, ErrNoBond)
}

func TestRedeemStakesThroughStaker(t *testing.T) {
	f := newFixture(t)
	staker := &recordingStaker{ledger: f.ledger, vault: testAddress(0x5A), staked: map[[20]byte]*big.Int{}}

	payout, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
	require.NoError(t, err)
	f.advance(t, 10)

	_, err = f.engine.Redeem(user, true)
	require.Error(t, err)

	f.engine.SetStaker(staker)
	_, err = f.engine.Redeem(user, true)
	require.NoError(t, err)
	require.Equal(t, payout, staker.staked[user])
	require.Zero(t, f.balance(t, "BDN", user).Sign())
	require.Equal(t, payout, f.balance(t, "BDN", staker.vault))
}

func TestDebtDecaysOverVestingTerm(t *testing.T) {
	f := newFixture(t)
	payout, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
	require.NoError(t, err)

	f.advance(t, 5)
	debt, err := f.engine.CurrentDebt()
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Quo(payout, big.NewInt(2)), debt)

	f.advance(t, 10)
	debt, err = f.engine.CurrentDebt()
	require.NoError(t, err)
	require.Zero(t, debt.Sign())
}

func TestPriceRisesWithDebtRatio(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Deposit(user, e18(100_000), big.NewInt(2_000_000_000), user)
	require.NoError(t, err)

	ratio, err := f.engine.DebtRatio()
	require.NoError(t, err)
	require.Positive(t, ratio.Sign())

	price, err := f.engine.BondPrice()
	require.NoError(t, err)
	require.Equal(t, 1, price.Cmp(big.NewInt(1_000_000_000)))
}

func TestAdjustmentStepsTowardTarget(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetAdjustment(owner, true, 3, 105, 2, 0)
	require.ErrorIs(t, err, ErrAdjustmentTooLarge)
	require.NoError(t, f.engine.SetAdjustment(owner, true, 2, 105, 2, 0))

	deposit := func() {
		_, err := f.engine.Deposit(user, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000), user)
		require.NoError(t, err)
	}
	bcv := func() uint64 {
		terms, err := f.engine.Terms()
		require.NoError(t, err)
		return terms.ControlVariable
	}

	deposit()
	require.Equal(t, uint64(100), bcv())
	for _, want := range []uint64{102, 104, 105, 105} {
		f.advance(t, 2)
		deposit()
		require.Equal(t, want, bcv())
	}
	st, err := f.engine.State()
	require.NoError(t, err)
	require.False(t, st.Adjustment.Active)
}

func TestTermsAreOwnerGatedAndOneTime(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.InitializeBondTerms(owner, defaultTerms()), ErrTermsInitialized)
	require.ErrorIs(t, f.engine.SetBondTerm(user, ParamFee, big.NewInt(1)), ErrUnauthorized)
	require.ErrorIs(t, f.engine.SetBondTerm(owner, ParamVesting, big.NewInt(5)), ErrInvalidTerms)
	require.ErrorIs(t, f.engine.SetBondTerm(owner, ParamFee, big.NewInt(9_950)), ErrInvalidTerms)
	require.NoError(t, f.engine.SetBondTerm(owner, ParamFee, big.NewInt(50)))

	terms, err := f.engine.Terms()
	require.NoError(t, err)
	require.Equal(t, uint64(50), terms.FeeBps)

	param, err := ParseParameter("MAXDEBT")
	require.NoError(t, err)
	require.Equal(t, ParamMaxDebt, param)
}
