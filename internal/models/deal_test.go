package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{StatusAwaitingRoleSelection, StatusAwaitingAmount, true},
		{StatusAwaitingAmount, StatusAwaitingSellerApproval, true},
		{StatusAwaitingSellerApproval, StatusAwaitingFeeAgreement, true},
		{StatusAwaitingFeeAgreement, StatusAwaitingDeposit, true},
		{StatusAwaitingDeposit, StatusAwaitingDelivery, true},
		{StatusAwaitingDelivery, StatusAwaitingReceipt, true},
		{StatusAwaitingReceipt, StatusAwaitingPayoutAddress, true},
		{StatusAwaitingPayoutAddress, StatusAwaitingPayoutConfirm, true},
		{StatusAwaitingPayoutConfirm, StatusCompleted, true},

		// Zero-fee skip and amount rejection loop
		{StatusAwaitingSellerApproval, StatusAwaitingDeposit, true},
		{StatusAwaitingSellerApproval, StatusAwaitingAmount, true},

		// Dispute branch
		{StatusAwaitingReceipt, StatusDisputed, true},
		{StatusDisputed, StatusRefundPending, true},
		{StatusDisputed, StatusAwaitingPayoutAddress, true},
		{StatusDisputed, StatusSupportEscalated, true},

		// Payout confirm step
		{StatusAwaitingPayoutConfirm, StatusAwaitingPayoutAddress, true},
		{StatusAwaitingPayoutConfirm, StatusSupportEscalated, true},

		// Timeout paths
		{StatusAwaitingRoleSelection, StatusTimedOut, true},
		{StatusAwaitingAmount, StatusTimedOut, true},
		{StatusAwaitingDeposit, StatusTimedOut, true},
		{StatusAwaitingDeposit, StatusRefundPending, true},
		{StatusAwaitingDelivery, StatusRefundPending, true},
		{StatusRefundPending, StatusRefunded, true},
		{StatusRefundPending, StatusSupportEscalated, true},

		// Invalid transitions
		{StatusAwaitingRoleSelection, StatusAwaitingDeposit, false},
		{StatusAwaitingAmount, StatusAwaitingFeeAgreement, false},
		{StatusAwaitingDelivery, StatusTimedOut, false},
		{StatusCompleted, StatusRefunded, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusTimedOut, StatusAwaitingRoleSelection, false},
		{StatusSupportEscalated, StatusCompleted, false},
		{StatusAwaitingDeposit, StatusCompleted, false},
		{"nonexistent", StatusAwaitingAmount, false},
		{StatusAwaitingAmount, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		StatusAwaitingRoleSelection, StatusAwaitingAmount, StatusAwaitingSellerApproval,
		StatusAwaitingFeeAgreement, StatusAwaitingDeposit, StatusAwaitingDelivery,
		StatusAwaitingReceipt, StatusAwaitingPayoutAddress, StatusAwaitingPayoutConfirm,
		StatusCompleted, StatusDisputed, StatusRefundPending, StatusRefunded,
		StatusTimedOut, StatusSupportEscalated,
	}

	for _, status := range allStatuses {
		if _, ok := ValidDealTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidDealTransitions map", status)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []string{StatusCompleted, StatusRefunded, StatusTimedOut, StatusSupportEscalated}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = false, want true", status)
		}
		if len(ValidDealTransitions[status]) != 0 {
			t.Errorf("terminal status %q should have no transitions", status)
		}
	}
	for _, status := range []string{StatusAwaitingDeposit, StatusDisputed, StatusRefundPending} {
		if IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = true, want false", status)
		}
	}
	if IsTerminal("nonexistent") {
		t.Error("unknown status must not be terminal")
	}
}

func TestTxRefsSetOnce(t *testing.T) {
	d := &Deal{}

	if err := d.SetDepositTx("tx-in-1"); err != nil {
		t.Fatalf("first SetDepositTx: %v", err)
	}
	if err := d.SetDepositTx("tx-in-2"); err != ErrTxRefAlreadySet {
		t.Fatalf("second SetDepositTx err = %v, want ErrTxRefAlreadySet", err)
	}
	if d.DepositTxRef() != "tx-in-1" {
		t.Errorf("deposit tx ref overwritten: %s", d.DepositTxRef())
	}

	if err := d.SetPayoutTx("tx-out-1"); err != nil {
		t.Fatalf("first SetPayoutTx: %v", err)
	}
	if err := d.SetPayoutTx("tx-out-2"); err != ErrTxRefAlreadySet {
		t.Fatalf("second SetPayoutTx err = %v, want ErrTxRefAlreadySet", err)
	}
	if d.PayoutTxRef() != "tx-out-1" {
		t.Errorf("payout tx ref overwritten: %s", d.PayoutTxRef())
	}
}

func TestRoleHelpers(t *testing.T) {
	d := &Deal{ID: "ch-1", Initiator: "alice", Counterparty: "bob"}

	if d.RolesComplete() {
		t.Error("roles should not be complete before claims")
	}
	if !d.Participant("alice") || !d.Participant("bob") {
		t.Error("both parties must be participants")
	}
	if d.Participant("mallory") || d.Participant("") {
		t.Error("outsiders must not be participants")
	}
	if d.OtherParty("alice") != "bob" || d.OtherParty("bob") != "alice" {
		t.Error("OtherParty mismatch")
	}

	d.Buyer = "alice"
	d.Seller = "bob"
	if d.RoleOf("alice") != RoleBuyer || d.RoleOf("bob") != RoleSeller {
		t.Error("RoleOf mismatch")
	}
	if d.RoleOf("mallory") != "" || d.RoleOf("") != "" {
		t.Error("RoleOf must be empty for non-holders")
	}
	if !d.RolesComplete() {
		t.Error("roles should be complete")
	}
}
