// Incentive accounting per spec.md §4.E. The teacher has no economic layer
// to adapt from (validators are paid off-chain, not slashed); the formulas
// below are built straight from the spec's explicit reward/slash
// percentages, kept in the teacher's mutex-guarded accumulator style
// (pkg/batch/collector.go's Collector).
package relay

import "sync"

const (
	uptimeEMAAlpha               = 0.2
	downtimeSlashPerWindow       = 0.05
	forgedReceiptSlashMultiplier = 2.0
)

// RelayAccount tracks one relay's bond, uptime, and accrued reward balance.
type RelayAccount struct {
	mu sync.Mutex

	RelayIdentity       string
	Bond                float64
	UptimeEMA           float64 // exponential moving average of liveness-probe successes, 0..1
	DiversityMultiplier float64 // reward bonus for under-served routing regions, >= 1.0
	RewardBalance       float64
	rewardPerReceipt    float64
}

// NewRelayAccount opens a relay's account at registration with its posted
// bond and region diversity multiplier.
func NewRelayAccount(relayIdentity string, bond, diversityMultiplier float64) *RelayAccount {
	return &RelayAccount{
		RelayIdentity:       relayIdentity,
		Bond:                bond,
		UptimeEMA:           1.0,
		DiversityMultiplier: diversityMultiplier,
		rewardPerReceipt:    1.0,
	}
}

// ObserveLivenessProbe folds one liveness-probe outcome into the uptime EMA.
func (a *RelayAccount) ObserveLivenessProbe(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	a.UptimeEMA = uptimeEMAAlpha*outcome + (1-uptimeEMAAlpha)*a.UptimeEMA
}

// RewardForBatch credits and returns the reward earned by a committed
// ProofBatch: receipt count, scaled by the uptime factor and the diversity
// multiplier.
func (a *RelayAccount) RewardForBatch(batch *ProofBatch) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	reward := float64(len(batch.Receipts)) * a.rewardPerReceipt * a.UptimeEMA * a.DiversityMultiplier
	a.RewardBalance += reward
	return reward
}

// SlashEvent records one bond slash and its justification.
type SlashEvent struct {
	RelayIdentity string
	Reason        string
	Amount        float64
}

// SlashForgedReceipt slashes 2x the reward a forged receipt would have
// fraudulently earned.
func (a *RelayAccount) SlashForgedReceipt(fraudulentReward float64) SlashEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	amount := fraudulentReward * forgedReceiptSlashMultiplier
	if amount > a.Bond {
		amount = a.Bond
	}
	a.Bond -= amount
	return SlashEvent{RelayIdentity: a.RelayIdentity, Reason: "forged receipt", Amount: amount}
}

// SlashDowntimeWindow slashes 5% of the current bond for one prolonged
// downtime window.
func (a *RelayAccount) SlashDowntimeWindow() SlashEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	amount := a.Bond * downtimeSlashPerWindow
	a.Bond -= amount
	return SlashEvent{RelayIdentity: a.RelayIdentity, Reason: "prolonged downtime", Amount: amount}
}

// SlashEquivocation slashes a relay's entire remaining bond for submitting
// contradictory DeliveryBatches.
func (a *RelayAccount) SlashEquivocation() SlashEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	amount := a.Bond
	a.Bond = 0
	return SlashEvent{RelayIdentity: a.RelayIdentity, Reason: "equivocation", Amount: amount}
}
