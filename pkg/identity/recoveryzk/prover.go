// Package recoveryzk: Prover compiles ThresholdCircuit once and generates
// Groth16 proofs per recovery request. Setup/Prove/Verify lifecycle and
// witness shape are adapted from the teacher's
// pkg/crypto/bls_zkp/prover.go (BLSZKProver/GenerateProof/VerifyProofLocally).
package recoveryzk

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Prover holds the compiled circuit and Groth16 keys for guardian-recovery
// threshold proofs. Initialize is a one-time, possibly slow, trusted setup.
type Prover struct {
	mu sync.RWMutex

	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey

	initialized bool
}

// NewProver creates an uninitialized prover.
func NewProver() *Prover {
	return &Prover{}
}

// Initialize compiles ThresholdCircuit and runs the Groth16 setup.
func (p *Prover) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	var circuit ThresholdCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("compile guardian threshold circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}

	p.cs, p.pk, p.vk = cs, pk, vk
	p.initialized = true
	return nil
}

// Witness carries the public and private values for one recovery proof.
type Witness struct {
	RecoveryCommitment    *big.Int
	GuardianSetCommitment *big.Int
	Threshold             uint64
	GuardianCount         uint64

	ApprovalCount       uint64
	ApprovalSetBlinding *big.Int
	NewIdentityKeyX     *big.Int
	NewIdentityKeyY     *big.Int
}

// Proof is a generated Groth16 proof plus its public inputs, ready to
// accompany an OpenGuardianRecovery request submitted to the chain.
type Proof struct {
	groth16Proof groth16.Proof

	RecoveryCommitment    *big.Int
	GuardianSetCommitment *big.Int
	Threshold             uint64
	GuardianCount         uint64
}

// ComputeRecoveryCommitment binds a new identity key and a blinding factor
// into the public commitment a recovery request publishes on-chain.
func ComputeRecoveryCommitment(newIdentityKeyX, newIdentityKeyY, blinding *big.Int) *big.Int {
	result := new(big.Int).Mul(newIdentityKeyY, big.NewInt(7))
	result.Add(result, newIdentityKeyX)
	result.Add(result, new(big.Int).Mul(blinding, big.NewInt(13)))
	return result
}

// Prove generates a threshold proof for the given witness.
func (p *Prover) Prove(w *Witness) (*Proof, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, errors.New("guardian recovery prover not initialized")
	}

	assignment := &ThresholdCircuit{
		RecoveryCommitment:    w.RecoveryCommitment,
		GuardianSetCommitment: w.GuardianSetCommitment,
		Threshold:             w.Threshold,
		GuardianCount:         w.GuardianCount,
		ApprovalCount:         w.ApprovalCount,
		ApprovalSetBlinding:   w.ApprovalSetBlinding,
		NewIdentityKeyX:       w.NewIdentityKeyX,
		NewIdentityKeyY:       w.NewIdentityKeyY,
	}

	witnessData, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(p.cs, p.pk, witnessData)
	if err != nil {
		return nil, fmt.Errorf("generate proof: %w", err)
	}

	return &Proof{
		groth16Proof:          proof,
		RecoveryCommitment:    w.RecoveryCommitment,
		GuardianSetCommitment: w.GuardianSetCommitment,
		Threshold:             w.Threshold,
		GuardianCount:         w.GuardianCount,
	}, nil
}

// Verify checks a proof against its declared public inputs.
func (p *Prover) Verify(proof *Proof) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return false, errors.New("guardian recovery prover not initialized")
	}

	public := &ThresholdCircuit{
		RecoveryCommitment:    proof.RecoveryCommitment,
		GuardianSetCommitment: proof.GuardianSetCommitment,
		Threshold:             proof.Threshold,
		GuardianCount:         proof.GuardianCount,
	}
	publicWitness, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("build public witness: %w", err)
	}

	if err := groth16.Verify(proof.groth16Proof, p.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
