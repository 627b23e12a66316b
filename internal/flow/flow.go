// Package flow runs the orchestrated workflows: a catalog of three-stage
// flows whose second stage is one of a small set of registered branches.
package flow

import (
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/models"
)

// branch drives a run from the moment its second task starts. It is called
// with the engine lock held and must only schedule work, never block.
type branch func(e *Engine, r run)

var (
	registryMu sync.RWMutex
	registry   = make(map[models.FlowKind]branch)
)

// register binds a branch to a flow kind, replacing any previous binding.
func register(kind models.FlowKind, b branch) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = b
}

// lookup returns the branch registered for kind.
func lookup(kind models.FlowKind) (branch, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[kind]
	return b, ok
}

func init() {
	register(models.FlowKindGeneric, genericBranch)
	register(models.FlowKindReasoning, reasoningBranch)
	register(models.FlowKindEmergency, emergencyBranch)
}
