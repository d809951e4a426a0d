package profitability

import (
	"testing"

	"github.com/brewgator/revenue-ops/internal/model"
)

func TestClassifyHardBleeder(t *testing.T) {
	win30 := Window{RevenueSats: 500, RebalanceCostSats: 1600}
	win7 := Window{RevenueSats: 50, RebalanceCostSats: 100}

	bc := Classify("chan-1", "peer-a", win7, win30)
	if bc.Classification != model.BleederHard {
		t.Errorf("expected hard bleeder, got %v (%s)", bc.Classification, bc.Reason)
	}
	if bc.RecommendedAction != model.ActionDisableRebalance {
		t.Errorf("expected disable_rebalance action, got %v", bc.RecommendedAction)
	}
}

func TestClassifySoftBleederShortTermDip(t *testing.T) {
	win30 := Window{RevenueSats: 2000, RebalanceCostSats: 500}
	win7 := Window{RevenueSats: 10, RebalanceCostSats: 100}

	bc := Classify("chan-2", "peer-b", win7, win30)
	if bc.Classification != model.BleederSoft {
		t.Errorf("expected soft bleeder, got %v (%s)", bc.Classification, bc.Reason)
	}
	if bc.RecommendedAction != model.ActionReduceRebalance {
		t.Errorf("expected reduce_rebalance action, got %v", bc.RecommendedAction)
	}
}

func TestClassifySustainedSevereIsHard(t *testing.T) {
	win30 := Window{RevenueSats: 1500, RebalanceCostSats: 2700}
	win7 := Window{RevenueSats: 10, RebalanceCostSats: 50}

	bc := Classify("chan-3", "peer-c", win7, win30)
	if bc.Classification != model.BleederHard {
		t.Errorf("expected sustained severe to classify hard, got %v (%s)", bc.Classification, bc.Reason)
	}
}

func TestClassifySustainedMinorIsSoft(t *testing.T) {
	win30 := Window{RevenueSats: 900, RebalanceCostSats: 1000}
	win7 := Window{RevenueSats: 10, RebalanceCostSats: 50}

	bc := Classify("chan-4", "peer-d", win7, win30)
	if bc.Classification != model.BleederSoft {
		t.Errorf("expected sustained minor loss to classify soft, got %v (%s)", bc.Classification, bc.Reason)
	}
}

func TestClassifyHealthyChannel(t *testing.T) {
	win30 := Window{RevenueSats: 5000, RebalanceCostSats: 500}
	win7 := Window{RevenueSats: 1200, RebalanceCostSats: 100}

	bc := Classify("chan-5", "peer-e", win7, win30)
	if bc.Classification != model.BleederNone {
		t.Errorf("expected healthy channel, got %v (%s)", bc.Classification, bc.Reason)
	}
	if bc.IsBleeder() {
		t.Error("expected IsBleeder() to be false for a healthy channel")
	}
}

func TestBleederClassificationHelpers(t *testing.T) {
	hard := model.BleederClassification{Classification: model.BleederHard}
	if !hard.IsHardBleeder() || !hard.IsBleeder() || hard.IsSoftBleeder() {
		t.Error("hard classification helper methods inconsistent")
	}

	soft := model.BleederClassification{Classification: model.BleederSoft}
	if !soft.IsSoftBleeder() || !soft.IsBleeder() || soft.IsHardBleeder() {
		t.Error("soft classification helper methods inconsistent")
	}
}

func TestWindowNetProfit(t *testing.T) {
	w := Window{RevenueSats: 1000, RebalanceCostSats: 400}
	if w.NetProfit() != 600 {
		t.Errorf("expected net profit 600, got %d", w.NetProfit())
	}
}
