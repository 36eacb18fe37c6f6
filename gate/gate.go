package gate

import (
	"sync"
	"time"
)

// Gate is stateless per decision; it only holds a reference to the current
// bundle (swapped atomically by SetBundle) and the approval store.
type Gate struct {
	mu       sync.RWMutex
	bundle   *PolicyBundle
	approval *ApprovalStore
}

func New(bundle *PolicyBundle) *Gate {
	g := &Gate{bundle: bundle, approval: NewApprovalStore()}
	g.applyApprovalTTL(bundle)
	return g
}

// SetBundle atomically swaps the active policy bundle. Per §5's "Policy
// bundle ... reloading atomically swaps the bundle pointer", this is the
// only mutation the gate ever performs on itself; the bundle value handed
// in is never mutated by the gate.
func (g *Gate) SetBundle(bundle *PolicyBundle) {
	g.mu.Lock()
	g.bundle = bundle
	g.mu.Unlock()
	g.applyApprovalTTL(bundle)
}

func (g *Gate) applyApprovalTTL(bundle *PolicyBundle) {
	if bundle != nil && bundle.ApprovalTTLMs > 0 {
		g.approval.SetDefaultTTL(time.Duration(bundle.ApprovalTTLMs) * time.Millisecond)
	}
}

func (g *Gate) currentBundle() *PolicyBundle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bundle
}

type membership struct {
	allow, deny, requireApproval map[string]bool
}

func newMembership() membership {
	return membership{allow: map[string]bool{}, deny: map[string]bool{}, requireApproval: map[string]bool{}}
}

// compose folds one rule's contribution into m, honoring the rule's own
// conflict resolution for entries it introduces.
func compose(m membership, r PolicyRule, ctx PolicyContext) membership {
	if !r.applies(ctx) {
		return m
	}
	resolveAllowOverrides := r.resolution() == AllowOverrides

	for _, id := range r.Deny {
		if resolveAllowOverrides && m.allow[id] {
			continue
		}
		m.deny[id] = true
		delete(m.allow, id)
	}
	for _, id := range r.Allow {
		if !resolveAllowOverrides && m.deny[id] {
			continue
		}
		m.allow[id] = true
		if resolveAllowOverrides {
			delete(m.deny, id)
		}
	}
	for _, id := range r.RequireApproval {
		m.requireApproval[id] = true
	}
	return m
}

// Evaluate composes default -> intent -> agent -> matching overrides (in
// declaration order) and returns the final decision for toolID.
func (g *Gate) Evaluate(toolID string, ctx PolicyContext) Decision {
	bundle := g.currentBundle()
	if bundle == nil {
		return Decision{ToolID: toolID, Allowed: true}
	}

	m := newMembership()
	matched := 0

	m = compose(m, bundle.Default, ctx)
	matched++

	if ctx.IntentID != "" {
		if r, ok := bundle.PerIntent[ctx.IntentID]; ok {
			m = compose(m, r, ctx)
			matched++
		}
	}
	if ctx.AgentID != "" {
		if r, ok := bundle.PerAgent[ctx.AgentID]; ok {
			m = compose(m, r, ctx)
			matched++
		}
	}
	for _, o := range bundle.Overrides {
		if (o.IntentID == "" || o.IntentID == ctx.IntentID) && (o.AgentID == "" || o.AgentID == ctx.AgentID) {
			m = compose(m, o.Rule, ctx)
			matched++
		}
	}

	denied := m.deny[toolID]
	allowed := m.allow[toolID] && !denied
	decision := Decision{ToolID: toolID, Allowed: allowed, RequireApproval: m.requireApproval[toolID] && allowed, MatchedRules: matched}
	if denied {
		decision.DeniedBy = "policy"
	}
	return decision
}

// Filter evaluates every tool id against ctx, preserving input order, and
// splits it into allowed ids and denied decisions.
func (g *Gate) Filter(toolIDs []string, ctx PolicyContext) (allowed []string, denied []Decision) {
	for _, id := range toolIDs {
		d := g.Evaluate(id, ctx)
		if d.Allowed {
			allowed = append(allowed, id)
		} else {
			denied = append(denied, d)
		}
	}
	return allowed, denied
}

// --- Approval store ---

type approvalEntry struct {
	grantedAt time.Time
	ttl       time.Duration
}

func (e approvalEntry) expired(now time.Time) bool {
	return now.Sub(e.grantedAt) > e.ttl
}

const DefaultApprovalTTL = 300_000 * time.Millisecond

// ApprovalStore tracks per (toolId, sessionKey) approvals with TTL. Each key
// is independent; reads/writes never block a model call.
type ApprovalStore struct {
	mu         sync.Mutex
	entries    map[string]approvalEntry
	pending    map[string]bool
	defaultTTL time.Duration
}

func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{entries: map[string]approvalEntry{}, pending: map[string]bool{}, defaultTTL: DefaultApprovalTTL}
}

// SetDefaultTTL overrides the approval TTL applied when RecordApproval or
// CreateApprovalRequest is called without an explicit one — the §9 Open
// Question decision to make the 300s default a PolicyBundle-level setting
// rather than a hardcoded constant.
func (s *ApprovalStore) SetDefaultTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		s.defaultTTL = ttl
	}
}

func approvalKey(toolID, sessionKey string) string { return toolID + "\x00" + sessionKey }

// SessionKey derives the approval-store key per §4.3:
// ctx.metadata["conversationId"] if set, else ctx.UserID.
func SessionKey(ctx PolicyContext) string {
	if v, ok := ctx.Metadata["conversationId"]; ok && v != "" {
		return v
	}
	return ctx.UserID
}

func (s *ApprovalStore) HasApproval(toolID, sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[approvalKey(toolID, sessionKey)]
	if !ok {
		return false
	}
	if e.expired(time.Now()) {
		delete(s.entries, approvalKey(toolID, sessionKey))
		return false
	}
	return true
}

func (s *ApprovalStore) RecordApproval(toolID, sessionKey string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.entries[approvalKey(toolID, sessionKey)] = approvalEntry{grantedAt: time.Now(), ttl: ttl}
	delete(s.pending, approvalKey(toolID, sessionKey))
}

// ApprovalRequest is returned to the caller when a tool needs confirmation.
type ApprovalRequest struct {
	ToolID     string
	SessionKey string
	Prompt     string
	TTLMs      int64
}

// CreateApprovalRequest returns nil if an approval request is already
// pending for (decision.ToolID, sessionKey) — at most one pending request
// per key at a time.
func (s *ApprovalStore) CreateApprovalRequest(decision Decision, sessionKey string) *ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := approvalKey(decision.ToolID, sessionKey)
	if s.pending[key] {
		return nil
	}
	s.pending[key] = true
	return &ApprovalRequest{
		ToolID:     decision.ToolID,
		SessionKey: sessionKey,
		Prompt:     "approval required for tool " + decision.ToolID,
		TTLMs:      s.defaultTTL.Milliseconds(),
	}
}

func (s *ApprovalStore) ClearApprovals(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if hasSessionSuffix(key, sessionKey) {
			delete(s.entries, key)
		}
	}
	for key := range s.pending {
		if hasSessionSuffix(key, sessionKey) {
			delete(s.pending, key)
		}
	}
}

func hasSessionSuffix(key, sessionKey string) bool {
	suffix := "\x00" + sessionKey
	if len(key) < len(suffix) {
		return false
	}
	return key[len(key)-len(suffix):] == suffix
}

func (g *Gate) Approvals() *ApprovalStore { return g.approval }
