package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics exposes gauges for the protocol's headline accounting figures.
type LedgerMetrics struct {
	height        prometheus.Gauge
	totalDebt     prometheus.Gauge
	totalReserves prometheus.Gauge
	bondPrice     prometheus.Gauge
	rewardCycle   prometheus.Gauge
	supply        *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bdn_ledger_height",
				Help: "Height transactions are currently applied at.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bdn_bond_total_debt",
				Help: "Outstanding bond debt in protocol token base units, before decay.",
			}),
			totalReserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bdn_treasury_total_reserves",
				Help: "Value of treasury reserves in protocol token base units.",
			}),
			bondPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bdn_bond_price",
				Help: "Current bond price scaled by 1e9.",
			}),
			rewardCycle: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bdn_rewards_current_cycle",
				Help: "Number of the open reward cycle.",
			}),
			supply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bdn_token_supply",
				Help: "Circulating supply per token in base units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.height,
			ledgerRegistry.totalDebt,
			ledgerRegistry.totalReserves,
			ledgerRegistry.bondPrice,
			ledgerRegistry.rewardCycle,
			ledgerRegistry.supply,
		)
	})
	return ledgerRegistry
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// Snapshot carries the figures published after each request.
type Snapshot struct {
	Height        uint64
	TotalDebt     *big.Int
	TotalReserves *big.Int
	BondPrice     *big.Int
	RewardCycle   uint64
	Supplies      map[string]*big.Int
}

// Publish sets every gauge from the snapshot.
func (m *LedgerMetrics) Publish(s Snapshot) {
	if m == nil {
		return
	}
	m.height.Set(float64(s.Height))
	m.totalDebt.Set(toFloat(s.TotalDebt))
	m.totalReserves.Set(toFloat(s.TotalReserves))
	m.bondPrice.Set(toFloat(s.BondPrice))
	m.rewardCycle.Set(float64(s.RewardCycle))
	for asset, supply := range s.Supplies {
		m.supply.WithLabelValues(asset).Set(toFloat(supply))
	}
}
