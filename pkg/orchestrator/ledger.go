package orchestrator

import "sync"

// tokenLedger provides at-most-once execution intake. Each execution
// request may carry an operation token; a token seen before returns the
// original execution instead of running again, and a token still in flight
// is rejected.
type tokenLedger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	executionID string
	inFlight    bool
}

func newTokenLedger() *tokenLedger {
	return &tokenLedger{entries: make(map[string]*ledgerEntry)}
}

// begin claims the token. It returns the prior execution id for a settled
// replay, or inFlight=true when the token's original request is still
// running. ok=true means the caller owns the token and must settle or
// release it.
func (l *tokenLedger) begin(token string) (executionID string, inFlight, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, seen := l.entries[token]; seen {
		return entry.executionID, entry.inFlight, false
	}
	l.entries[token] = &ledgerEntry{inFlight: true}
	return "", false, true
}

// settle records the finalized execution for the token.
func (l *tokenLedger) settle(token, executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[token]; ok {
		entry.executionID = executionID
		entry.inFlight = false
	}
}

// release abandons the claim so the token can be retried, used when the
// request failed before an execution record existed.
func (l *tokenLedger) release(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, token)
}
