package relay

import "testing"

func TestRewardForBatchScalesByUptimeAndDiversity(t *testing.T) {
	acc := NewRelayAccount("relay-1", 100, 1.5)
	batch := &ProofBatch{Receipts: []*DeliveryReceipt{testReceipt(1), testReceipt(2)}}

	reward := acc.RewardForBatch(batch)
	want := 2.0 * 1.0 * 1.5 // receipts * uptime(starts at 1.0) * diversity
	if reward != want {
		t.Fatalf("expected reward %v, got %v", want, reward)
	}
	if acc.RewardBalance != want {
		t.Fatalf("expected reward balance %v, got %v", want, acc.RewardBalance)
	}
}

func TestObserveLivenessProbeMovesEMA(t *testing.T) {
	acc := NewRelayAccount("relay-1", 100, 1.0)
	acc.ObserveLivenessProbe(false)
	if acc.UptimeEMA >= 1.0 {
		t.Fatalf("expected uptime EMA to drop below 1.0 after a failed probe, got %v", acc.UptimeEMA)
	}

	for i := 0; i < 50; i++ {
		acc.ObserveLivenessProbe(true)
	}
	if acc.UptimeEMA < 0.99 {
		t.Fatalf("expected uptime EMA to recover close to 1.0 after repeated successes, got %v", acc.UptimeEMA)
	}
}

func TestSlashForgedReceiptDoublesFraudulentReward(t *testing.T) {
	acc := NewRelayAccount("relay-1", 100, 1.0)
	event := acc.SlashForgedReceipt(10)
	if event.Amount != 20 {
		t.Fatalf("expected slash of 2x the fraudulent reward (20), got %v", event.Amount)
	}
	if acc.Bond != 80 {
		t.Fatalf("expected bond reduced to 80, got %v", acc.Bond)
	}
}

func TestSlashDowntimeWindowTakesFivePercent(t *testing.T) {
	acc := NewRelayAccount("relay-1", 100, 1.0)
	event := acc.SlashDowntimeWindow()
	if event.Amount != 5 {
		t.Fatalf("expected a 5%% slash of bond, got %v", event.Amount)
	}
	if acc.Bond != 95 {
		t.Fatalf("expected bond reduced to 95, got %v", acc.Bond)
	}
}

func TestSlashEquivocationTakesEntireBond(t *testing.T) {
	acc := NewRelayAccount("relay-1", 100, 1.0)
	event := acc.SlashEquivocation()
	if event.Amount != 100 {
		t.Fatalf("expected the entire bond (100) to be slashed, got %v", event.Amount)
	}
	if acc.Bond != 0 {
		t.Fatalf("expected bond to be zeroed, got %v", acc.Bond)
	}
}

func TestSlashForgedReceiptCannotExceedRemainingBond(t *testing.T) {
	acc := NewRelayAccount("relay-1", 5, 1.0)
	event := acc.SlashForgedReceipt(10) // 2x would be 20, more than the 5 bond
	if event.Amount != 5 {
		t.Fatalf("expected the slash to be capped at the remaining bond (5), got %v", event.Amount)
	}
	if acc.Bond != 0 {
		t.Fatalf("expected bond to be zeroed, got %v", acc.Bond)
	}
}
