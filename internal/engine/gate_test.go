package engine_test

import (
	"testing"

	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/engine"
)

func ledgerWith(status domain.StepStatus, holder string) domain.TaskProcess {
	return domain.TaskProcess{
		TaskID: "t1",
		Steps: []domain.ProcessStep{
			{ID: "s0", Seq: 0, ToUserID: "alice", Status: domain.StepEmAnalise, IsActive: false},
			{ID: "s1", Seq: 1, ToUserID: holder, Status: status, IsActive: true},
		},
	}
}

func TestGateHolderOnly(t *testing.T) {
	p := ledgerWith(domain.StepEmAnalise, "bob")
	if !engine.CanForward(p, "bob", domain.HierarchyColaborador) {
		t.Fatalf("holder cannot forward")
	}
	if engine.CanForward(p, "alice", domain.HierarchyGerente) {
		t.Fatalf("non-holder can forward")
	}
	if engine.CanSign(p, "bob", domain.HierarchyColaborador) {
		t.Fatalf("sign allowed while em_analise")
	}
}

func TestGatePendingSignature(t *testing.T) {
	p := ledgerWith(domain.StepEmTransito, "bob")
	if engine.CanForward(p, "bob", domain.HierarchyColaborador) {
		t.Fatalf("forward allowed while em_transito")
	}
	if !engine.CanSign(p, "bob", domain.HierarchyColaborador) {
		t.Fatalf("recipient cannot sign")
	}
	if !engine.CanReject(p, "bob", domain.HierarchyColaborador) {
		t.Fatalf("recipient cannot reject")
	}
}

func TestGateDeniesExternalClients(t *testing.T) {
	for _, status := range []domain.StepStatus{domain.StepEmAnalise, domain.StepEmTransito} {
		p := ledgerWith(status, "carla")
		perms := engine.PermissionsFor(p, "carla", domain.HierarchyCliente)
		if perms.CanForward || perms.CanSign || perms.CanReject {
			t.Fatalf("cliente has permissions on %s step: %+v", status, perms)
		}
	}
}

func TestGateHaltedLedger(t *testing.T) {
	p := domain.TaskProcess{
		TaskID: "t1",
		Steps: []domain.ProcessStep{
			{ID: "s0", Seq: 0, ToUserID: "bob", Status: domain.StepRejeitado, IsActive: false},
		},
	}
	perms := engine.PermissionsFor(p, "bob", domain.HierarchyDiretor)
	if perms.CanForward || perms.CanSign || perms.CanReject {
		t.Fatalf("halted ledger still grants permissions: %+v", perms)
	}
}
