package cohort

import (
	"errors"
	"time"
)

// State is the lifecycle position of a cluster's active cohort.
type State string

const (
	// StateOpen accepts joins until capacity is reached.
	StateOpen State = "open"
	// StateFullPending is full but the exchange artifact is not stored yet.
	// Joins are rejected; a failed generation is retried from this state.
	StateFullPending State = "full_pending_exchange"
	// StateReady has a stored artifact. The cohort is immutable until reset.
	StateReady State = "exchange_ready"
)

// Cluster is a long-lived interest category that repeatedly fills cohorts.
type Cluster struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is the registry view of a cluster's active cohort.
type Status struct {
	ClusterID        string `json:"cluster_id"`
	ClusterName      string `json:"cluster_name"`
	CohortID         string `json:"cohort_id"`
	State            State  `json:"state"`
	IsFull           bool   `json:"is_full"`
	CurrentMembers   int    `json:"current_members"`
	MaxMembers       int    `json:"max_members"`
	UserIsMember     bool   `json:"user_is_member"`
	VCFUploaded      bool   `json:"vcf_uploaded"`
	VCFFileName      string `json:"vcf_file_name,omitempty"`
	VCFDownloadCount int    `json:"vcf_download_count"`
}

// Member is one user's participation in a specific cluster+cohort.
type Member struct {
	ClusterID         string     `json:"cluster_id"`
	CohortID          string     `json:"cohort_id"`
	UserID            string     `json:"user_id"`
	DisplayProfession bool       `json:"display_profession"`
	JoinedAt          time.Time  `json:"joined_at"`
	DownloadedAt      *time.Time `json:"downloaded_at,omitempty"`
}

// MemberProfile is a membership row merged with the profile subset the stats
// aggregator and the exchange generator consume.
type MemberProfile struct {
	UserID            string   `json:"user_id"`
	Nickname          string   `json:"nickname"`
	Phone             string   `json:"-"`
	Age               *int     `json:"age,omitempty"`
	Country           string   `json:"country,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	Profession        string   `json:"profession,omitempty"`
	DisplayProfession bool     `json:"display_profession"`
	LookingFor        []string `json:"looking_for,omitempty"`
	AvailableFor      []string `json:"available_for,omitempty"`
}

var (
	ErrNotFound       = errors.New("cluster not found")
	ErrAlreadyMember  = errors.New("user already joined this cluster")
	ErrClusterFull    = errors.New("cluster is full")
	ErrNotMember      = errors.New("user is not a member of this cluster")
	ErrCohortLocked   = errors.New("contact exchange already happened")
	ErrCohortMismatch = errors.New("cohort is no longer active")
	ErrInvalidCluster = errors.New("invalid cluster definition")
)
