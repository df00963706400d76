package cohort

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"clustercard.org/internal/ids"
)

// Registry owns the single source of truth for "is this cluster full". Every
// mutating operation behaves as if executed under a per-(cluster, active
// cohort) lock: concurrent joins can never overshoot capacity and at most one
// caller wins the exchange-ready transition.
type Registry interface {
	// Status reports the active cohort for a cluster, lazily initializing
	// operational state from the cluster definition on first touch.
	Status(ctx context.Context, clusterID, userID string) (Status, error)
	// Join inserts a membership and increments the counter in one atomic
	// step. Returns ErrAlreadyMember or ErrClusterFull on conflicts.
	Join(ctx context.Context, clusterID, userID string, displayProfession bool) (Status, error)
	// Leave removes a membership while the cohort is not exchange-ready.
	Leave(ctx context.Context, clusterID, userID string) (Status, error)
	// Members lists membership rows for a cohort in join order.
	Members(ctx context.Context, clusterID, cohortID string) ([]Member, error)
	// MarkExchangeReady transitions full_pending_exchange -> exchange_ready.
	// Exactly one caller per cohort observes won=true.
	MarkExchangeReady(ctx context.Context, clusterID, cohortID, fileName string) (won bool, err error)
	// TrackDownload stamps the member's download once and returns the
	// aggregate count. Retries never double-count.
	TrackDownload(ctx context.Context, clusterID, userID string) (int, error)
	// Reset clears the given cohort and reopens the cluster with a fresh
	// cohort id. Returns the artifact file name that became orphaned.
	Reset(ctx context.Context, clusterID, cohortID string) (removedArtifact string, err error)

	// Cluster definition CRUD (admin surface).
	CreateCluster(ctx context.Context, c Cluster) (Cluster, error)
	GetCluster(ctx context.Context, id string) (Cluster, error)
	ListClusters(ctx context.Context) ([]Cluster, error)
	UpdateCluster(ctx context.Context, c Cluster) (Cluster, error)
	DeleteCluster(ctx context.Context, id string) (removedArtifact string, err error)
}

// ValidateCluster checks a definition before it is persisted.
func ValidateCluster(c Cluster) error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidCluster
	}
	if c.Capacity <= 0 {
		return ErrInvalidCluster
	}
	return nil
}

// clusterState is the in-memory registry row.
type clusterState struct {
	cohortID      string
	state         State
	memberCount   int
	capacity      int
	vcfFileName   string
	vcfUploaded   bool
	downloadCount int
}

// InMemory implements Registry with in-process concurrency safety. Used in
// tests and local development; production runs on the Postgres store.
type InMemory struct {
	mu       sync.Mutex
	clusters map[string]Cluster
	states   map[string]*clusterState
	members  map[string]map[string]*Member // clusterID -> userID
}

var _ Registry = (*InMemory)(nil)

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		clusters: make(map[string]Cluster),
		states:   make(map[string]*clusterState),
		members:  make(map[string]map[string]*Member),
	}
}

// ensureState lazily initializes operational state from the definition.
// Callers must hold mu.
func (r *InMemory) ensureState(clusterID string) (*clusterState, Cluster, error) {
	def, ok := r.clusters[clusterID]
	if !ok {
		return nil, Cluster{}, ErrNotFound
	}
	st, ok := r.states[clusterID]
	if !ok {
		st = &clusterState{
			cohortID: ids.New(),
			state:    StateOpen,
			capacity: def.Capacity,
		}
		r.states[clusterID] = st
	}
	return st, def, nil
}

func (r *InMemory) statusLocked(clusterID, userID string) (Status, error) {
	st, def, err := r.ensureState(clusterID)
	if err != nil {
		return Status{}, err
	}
	_, isMember := r.members[clusterID][userID]
	return Status{
		ClusterID:        clusterID,
		ClusterName:      def.Name,
		CohortID:         st.cohortID,
		State:            st.state,
		IsFull:           st.state != StateOpen || st.memberCount >= st.capacity,
		CurrentMembers:   st.memberCount,
		MaxMembers:       st.capacity,
		UserIsMember:     isMember,
		VCFUploaded:      st.vcfUploaded,
		VCFFileName:      st.vcfFileName,
		VCFDownloadCount: st.downloadCount,
	}, nil
}

func (r *InMemory) Status(ctx context.Context, clusterID, userID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(clusterID, userID)
}

func (r *InMemory) Join(ctx context.Context, clusterID, userID string, displayProfession bool) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, _, err := r.ensureState(clusterID)
	if err != nil {
		return Status{}, err
	}
	if _, ok := r.members[clusterID][userID]; ok {
		return Status{}, ErrAlreadyMember
	}
	if st.state != StateOpen || st.memberCount >= st.capacity {
		return Status{}, ErrClusterFull
	}

	if r.members[clusterID] == nil {
		r.members[clusterID] = make(map[string]*Member)
	}
	r.members[clusterID][userID] = &Member{
		ClusterID:         clusterID,
		CohortID:          st.cohortID,
		UserID:            userID,
		DisplayProfession: displayProfession,
		JoinedAt:          time.Now().UTC(),
	}
	st.memberCount++
	if st.memberCount >= st.capacity {
		st.state = StateFullPending
	}
	return r.statusLocked(clusterID, userID)
}

func (r *InMemory) Leave(ctx context.Context, clusterID, userID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, _, err := r.ensureState(clusterID)
	if err != nil {
		return Status{}, err
	}
	if st.state == StateReady {
		return Status{}, ErrCohortLocked
	}
	if _, ok := r.members[clusterID][userID]; !ok {
		return Status{}, ErrNotMember
	}
	delete(r.members[clusterID], userID)
	st.memberCount--
	// A full-but-unexchanged cohort reopens when a slot frees up.
	if st.state == StateFullPending && st.memberCount < st.capacity {
		st.state = StateOpen
	}
	return r.statusLocked(clusterID, userID)
}

func (r *InMemory) Members(ctx context.Context, clusterID, cohortID string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clusters[clusterID]; !ok {
		return nil, ErrNotFound
	}
	var out []Member
	for _, m := range r.members[clusterID] {
		if m.CohortID == cohortID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r *InMemory) MarkExchangeReady(ctx context.Context, clusterID, cohortID, fileName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[clusterID]
	if !ok {
		return false, ErrNotFound
	}
	if st.cohortID != cohortID || st.state != StateFullPending {
		return false, nil
	}
	st.state = StateReady
	st.vcfFileName = fileName
	st.vcfUploaded = true
	return true, nil
}

func (r *InMemory) TrackDownload(ctx context.Context, clusterID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, _, err := r.ensureState(clusterID)
	if err != nil {
		return 0, err
	}
	m, ok := r.members[clusterID][userID]
	if !ok {
		return 0, ErrNotMember
	}
	if m.DownloadedAt == nil {
		now := time.Now().UTC()
		m.DownloadedAt = &now
		st.downloadCount++
	}
	return st.downloadCount, nil
}

func (r *InMemory) Reset(ctx context.Context, clusterID, cohortID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, def, err := r.ensureState(clusterID)
	if err != nil {
		return "", err
	}
	if st.cohortID != cohortID {
		return "", ErrCohortMismatch
	}
	removed := st.vcfFileName
	delete(r.members, clusterID)
	*st = clusterState{
		cohortID: ids.New(),
		state:    StateOpen,
		capacity: def.Capacity,
	}
	return removed, nil
}

func (r *InMemory) CreateCluster(ctx context.Context, c Cluster) (Cluster, error) {
	if err := ValidateCluster(c); err != nil {
		return Cluster{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = time.Now().UTC()
	r.clusters[c.ID] = c
	return c, nil
}

func (r *InMemory) GetCluster(ctx context.Context, id string) (Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clusters[id]
	if !ok {
		return Cluster{}, ErrNotFound
	}
	return c, nil
}

func (r *InMemory) ListClusters(ctx context.Context) ([]Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemory) UpdateCluster(ctx context.Context, c Cluster) (Cluster, error) {
	if err := ValidateCluster(c); err != nil {
		return Cluster{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.clusters[c.ID]
	if !ok {
		return Cluster{}, ErrNotFound
	}
	c.CreatedAt = cur.CreatedAt
	r.clusters[c.ID] = c
	// A capacity change applies to a still-open cohort immediately.
	if st, ok := r.states[c.ID]; ok && st.state == StateOpen {
		st.capacity = c.Capacity
		if st.memberCount >= st.capacity {
			st.state = StateFullPending
		}
	}
	return c, nil
}

func (r *InMemory) DeleteCluster(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clusters[id]; !ok {
		return "", ErrNotFound
	}
	var removed string
	if st, ok := r.states[id]; ok {
		removed = st.vcfFileName
	}
	delete(r.clusters, id)
	delete(r.states, id)
	delete(r.members, id)
	return removed, nil
}
