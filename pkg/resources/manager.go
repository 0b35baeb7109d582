package resources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/autograph/gnnsearch/pkg/models"
)

// epsilon absorbs rounding when fractional claims are summed and returned
const epsilon = 1e-9

// Reservation is the claim a dispatched trial holds
type Reservation struct {
	TrialID string
	Claim   models.ResourceClaim
}

// Manager tracks fractional reservations against a fixed capacity
type Manager struct {
	mu           sync.RWMutex
	capacity     Capacity
	availableCPU float64
	availableGPU float64
	reservations map[string]*Reservation // trialID -> reservation
}

// NewManager creates a reservation pool over the given capacity
func NewManager(capacity Capacity) *Manager {
	return &Manager{
		capacity:     capacity,
		availableCPU: capacity.CPUs,
		availableGPU: capacity.GPUs,
		reservations: make(map[string]*Reservation),
	}
}

// Capacity returns the total capacity the pool was created with
func (m *Manager) Capacity() Capacity {
	return m.capacity
}

// Reserve attempts to reserve resources for a trial
func (m *Manager) Reserve(trialID string, claim models.ResourceClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reservations[trialID]; exists {
		return fmt.Errorf("trial %s already has a reservation", trialID)
	}
	if m.availableCPU+epsilon < claim.CPU {
		return fmt.Errorf("insufficient CPU: need %.2f, available %.2f", claim.CPU, m.availableCPU)
	}
	if m.availableGPU+epsilon < claim.GPU {
		return fmt.Errorf("insufficient GPU: need %.2f, available %.2f", claim.GPU, m.availableGPU)
	}

	m.availableCPU -= claim.CPU
	m.availableGPU -= claim.GPU
	m.reservations[trialID] = &Reservation{TrialID: trialID, Claim: claim}
	return nil
}

// Release returns a trial's reservation to the pool
func (m *Manager) Release(trialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, exists := m.reservations[trialID]
	if !exists {
		return fmt.Errorf("no reservation found for trial %s", trialID)
	}
	m.release(res)
	return nil
}

// ReleaseAll drops every reservation and returns how many were held
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.reservations)
	for _, res := range m.reservations {
		m.release(res)
	}
	m.availableCPU = m.capacity.CPUs
	m.availableGPU = m.capacity.GPUs
	return n
}

func (m *Manager) release(res *Reservation) {
	m.availableCPU = minFloat(m.availableCPU+res.Claim.CPU, m.capacity.CPUs)
	m.availableGPU = minFloat(m.availableGPU+res.Claim.GPU, m.capacity.GPUs)
	delete(m.reservations, res.TrialID)
}

// Available returns the unreserved CPU and GPU capacity
func (m *Manager) Available() (cpu, gpu float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableCPU, m.availableGPU
}

// GetReservation returns the reservation for a trial
func (m *Manager) GetReservation(trialID string) (*Reservation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, exists := m.reservations[trialID]
	if !exists {
		return nil, false
	}
	cp := *res
	return &cp, true
}

// Reservations returns all current reservations ordered by trial ID
func (m *Manager) Reservations() []Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reservation, 0, len(m.reservations))
	for _, res := range m.reservations {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrialID < out[j].TrialID })
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
