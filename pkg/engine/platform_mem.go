package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryPlatform is an in-memory PlatformClient used for local development
// and tests. It keeps recipients, shares, and pipelines in maps and supports
// one-shot failure injection per operation.
type MemoryPlatform struct {
	mu sync.Mutex

	recipients map[string]*RemoteRecipient
	shares     map[string]*RemoteShare
	pipelines  map[string]*RemotePipeline // keyed by shareName/name

	failures map[string][]error
	calls    []string
}

// NewMemoryPlatform creates an empty in-memory platform.
func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		recipients: make(map[string]*RemoteRecipient),
		shares:     make(map[string]*RemoteShare),
		pipelines:  make(map[string]*RemotePipeline),
		failures:   make(map[string][]error),
	}
}

// FailOnce queues an error to be returned by the next call to the named
// operation (e.g. "CreatePipeline"). Subsequent calls succeed.
func (m *MemoryPlatform) FailOnce(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns the operations invoked so far, in order.
func (m *MemoryPlatform) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// record logs the call and pops a queued failure for the operation, if any.
// Callers must hold m.mu.
func (m *MemoryPlatform) record(op, resource string) error {
	m.calls = append(m.calls, op+":"+resource)
	if queued := m.failures[op]; len(queued) > 0 {
		err := queued[0]
		m.failures[op] = queued[1:]
		return err
	}
	return nil
}

func pipelineKey(shareName, name string) string {
	return shareName + "/" + name
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// GetRecipient returns the named recipient, or (nil, nil) when absent.
func (m *MemoryPlatform) GetRecipient(_ context.Context, name string) (*RemoteRecipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetRecipient", name); err != nil {
		return nil, err
	}
	r, ok := m.recipients[name]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.IPAccessList = copyStrings(r.IPAccessList)
	return &cp, nil
}

// CreateRecipient creates a recipient and returns its remote identifier.
func (m *MemoryPlatform) CreateRecipient(_ context.Context, r *RemoteRecipient) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateRecipient", r.Name); err != nil {
		return "", err
	}
	if _, exists := m.recipients[r.Name]; exists {
		return "", fmt.Errorf("recipient %q already exists", r.Name)
	}
	cp := *r
	cp.ID = uuid.New().String()
	cp.IPAccessList = copyStrings(r.IPAccessList)
	m.recipients[r.Name] = &cp
	return cp.ID, nil
}

// UpdateRecipient updates the mutable fields of an existing recipient.
func (m *MemoryPlatform) UpdateRecipient(_ context.Context, r *RemoteRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateRecipient", r.Name); err != nil {
		return err
	}
	cur, ok := m.recipients[r.Name]
	if !ok {
		return fmt.Errorf("recipient %q does not exist", r.Name)
	}
	cur.Description = r.Description
	cur.IPAccessList = copyStrings(r.IPAccessList)
	cur.TokenExpirySeconds = r.TokenExpirySeconds
	return nil
}

// DeleteRecipient removes a recipient.
func (m *MemoryPlatform) DeleteRecipient(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteRecipient", name); err != nil {
		return err
	}
	delete(m.recipients, name)
	return nil
}

// GetShare returns the named share, or (nil, nil) when absent.
func (m *MemoryPlatform) GetShare(_ context.Context, name string) (*RemoteShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetShare", name); err != nil {
		return nil, err
	}
	s, ok := m.shares[name]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Assets = copyStrings(s.Assets)
	cp.Recipients = copyStrings(s.Recipients)
	return &cp, nil
}

// CreateShare creates a share and returns its remote identifier.
func (m *MemoryPlatform) CreateShare(_ context.Context, s *RemoteShare) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateShare", s.Name); err != nil {
		return "", err
	}
	if _, exists := m.shares[s.Name]; exists {
		return "", fmt.Errorf("share %q already exists", s.Name)
	}
	cp := *s
	cp.ID = uuid.New().String()
	cp.Assets = copyStrings(s.Assets)
	cp.Recipients = copyStrings(s.Recipients)
	m.shares[s.Name] = &cp
	return cp.ID, nil
}

// UpdateShareAssets applies set additions and removals to a share's assets.
func (m *MemoryPlatform) UpdateShareAssets(_ context.Context, name string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateShareAssets", name); err != nil {
		return err
	}
	s, ok := m.shares[name]
	if !ok {
		return fmt.Errorf("share %q does not exist", name)
	}
	s.Assets = applySetDiff(s.Assets, add, remove)
	return nil
}

// UpdateShareRecipients applies set additions and removals to a share's
// recipients.
func (m *MemoryPlatform) UpdateShareRecipients(_ context.Context, name string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateShareRecipients", name); err != nil {
		return err
	}
	s, ok := m.shares[name]
	if !ok {
		return fmt.Errorf("share %q does not exist", name)
	}
	s.Recipients = applySetDiff(s.Recipients, add, remove)
	return nil
}

// DeleteShare removes a share.
func (m *MemoryPlatform) DeleteShare(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteShare", name); err != nil {
		return err
	}
	delete(m.shares, name)
	return nil
}

// GetPipeline returns the named pipeline within a share, or (nil, nil) when
// absent.
func (m *MemoryPlatform) GetPipeline(_ context.Context, shareName, name string) (*RemotePipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetPipeline", pipelineKey(shareName, name)); err != nil {
		return nil, err
	}
	p, ok := m.pipelines[pipelineKey(shareName, name)]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.KeyColumns = copyStrings(p.KeyColumns)
	cp.Notifications = copyStrings(p.Notifications)
	return &cp, nil
}

// CreatePipeline creates a pipeline with its schedule and returns the remote
// pipeline and job identifiers.
func (m *MemoryPlatform) CreatePipeline(_ context.Context, p *RemotePipeline) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreatePipeline", pipelineKey(p.ShareName, p.Name)); err != nil {
		return "", "", err
	}
	key := pipelineKey(p.ShareName, p.Name)
	if _, exists := m.pipelines[key]; exists {
		return "", "", fmt.Errorf("pipeline %q already exists", key)
	}
	cp := *p
	cp.ID = uuid.New().String()
	cp.JobID = uuid.New().String()
	cp.KeyColumns = copyStrings(p.KeyColumns)
	cp.Notifications = copyStrings(p.Notifications)
	m.pipelines[key] = &cp
	return cp.ID, cp.JobID, nil
}

// UpdatePipeline updates the mutable fields of an existing pipeline.
func (m *MemoryPlatform) UpdatePipeline(_ context.Context, p *RemotePipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdatePipeline", pipelineKey(p.ShareName, p.Name)); err != nil {
		return err
	}
	cur, ok := m.pipelines[pipelineKey(p.ShareName, p.Name)]
	if !ok {
		return fmt.Errorf("pipeline %q does not exist", pipelineKey(p.ShareName, p.Name))
	}
	cur.KeyColumns = copyStrings(p.KeyColumns)
	cur.Cron = p.Cron
	cur.Timezone = p.Timezone
	cur.Continuous = p.Continuous
	cur.Notifications = copyStrings(p.Notifications)
	return nil
}

// DeletePipeline removes a pipeline by remote identifier.
func (m *MemoryPlatform) DeletePipeline(_ context.Context, pipelineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeletePipeline", pipelineID); err != nil {
		return err
	}
	for key, p := range m.pipelines {
		if p.ID == pipelineID {
			delete(m.pipelines, key)
			return nil
		}
	}
	return nil
}

// DeleteSchedule removes a pipeline's schedule by remote job identifier.
func (m *MemoryPlatform) DeleteSchedule(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteSchedule", jobID); err != nil {
		return err
	}
	for _, p := range m.pipelines {
		if p.JobID == jobID {
			p.Cron = ""
			p.Timezone = ""
		}
	}
	return nil
}

// applySetDiff returns base plus add minus remove, preserving order of
// surviving entries.
func applySetDiff(base, add, remove []string) []string {
	removed := make(map[string]bool, len(remove))
	for _, r := range remove {
		removed[r] = true
	}
	present := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, b := range base {
		if removed[b] {
			continue
		}
		present[b] = true
		out = append(out, b)
	}
	for _, a := range add {
		if !present[a] && !removed[a] {
			present[a] = true
			out = append(out, a)
		}
	}
	return out
}
