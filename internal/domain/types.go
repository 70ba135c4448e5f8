package domain

import "time"

// Source identifies the project-tracking tool a record came from.
type Source string

const (
	SourceJira    Source = "jira"
	SourceClickUp Source = "clickup"
	SourceAzure   Source = "azure"
	SourceGitHub  Source = "github"
)

// ItemType is the canonical work-item taxonomy.
type ItemType string

const (
	ItemStory   ItemType = "story"
	ItemBug     ItemType = "bug"
	ItemTask    ItemType = "task"
	ItemSubtask ItemType = "subtask"
	ItemEpic    ItemType = "epic"
)

type Board struct {
	ID         int64
	Source     Source
	BoardID    string // external id/key in the source tool
	Name       string
	ClientID   string
	Meta       map[string]any
	LastSynced *time.Time
}

// RawPayload is one fetched record from a connector. Consumed read-only by
// normalizers; multiple rows may exist per external id.
type RawPayload struct {
	ID         int64
	Source     Source
	BoardID    int64
	ObjectType string // issue, task, work_item, pr
	ExternalID string
	Payload    map[string]any
	FetchedAt  time.Time
}

// LinkedPR is the compact PR link record embedded in WorkItem.LinkedPRs.
type LinkedPR struct {
	PRID            string     `json:"pr_id"`
	OpenedAt        *time.Time `json:"opened_at"`
	FirstReviewedAt *time.Time `json:"first_reviewed_at"`
	MergedAt        *time.Time `json:"merged_at"`
	Reviewers       []string   `json:"reviewers"`
}

// WorkItem is the canonical cross-source work item, keyed by (source, source_id).
type WorkItem struct {
	ID       int64
	Source   Source
	SourceID string
	BoardID  int64

	Title       string
	Description string
	ItemType    ItemType

	StoryPoints *float64
	SprintID    string
	ClientID    string

	Assignees []string
	DevOwner  string

	Status    string
	CreatedAt *time.Time
	StartedAt *time.Time

	DevStartedAt  *time.Time
	DevDoneAt     *time.Time
	ReadyForQAAt  *time.Time
	QAStartedAt   *time.Time
	QAVerifiedAt  *time.Time
	SignedOffAt   *time.Time
	ReadyForUATAt *time.Time
	DeployedUATAt *time.Time

	DoneAt      *time.Time
	CancelledAt *time.Time
	Closed      bool

	BlockedFlag   bool
	BlockedSince  *time.Time
	BlockedReason string

	ParentID  *int64
	LinkedPRs []LinkedPR
	Meta      map[string]any
}

// PR is a pull request, optionally linked to one WorkItem.
type PR struct {
	ID              int64
	PRID            string // owner/repo#number
	Source          Source
	WorkItemID      *int64
	Title           string
	Branch          string
	OpenedAt        *time.Time
	FirstReviewedAt *time.Time
	MergedAt        *time.Time
	AuthorID        string
	ReviewerIDs     []string
	Meta            map[string]any
}

// RuleCode names one validation rule.
type RuleCode string

const (
	RuleMissingPoints   RuleCode = "MISSING_POINTS"
	RuleStuckInDev      RuleCode = "STUCK_IN_DEV"
	RuleWaitingForQA    RuleCode = "WAITING_FOR_QA"
	RuleStuckInQA       RuleCode = "STUCK_IN_QA"
	RuleBlockedNoReason RuleCode = "BLOCKED_NO_REASON"
	RulePRRequired      RuleCode = "PR_REQUIRED"
	RuleBlockedSLA      RuleCode = "BLOCKED_SLA"
)

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketDone       TicketStatus = "done"
)

// RemediationTicket records one detected policy violation. At most one
// non-done ticket exists per (board, work_item, rule_code) at any time.
type RemediationTicket struct {
	ID         int64
	BoardID    int64
	WorkItemID *int64
	RuleCode   RuleCode
	Message    string
	Status     TicketStatus
	Meta       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// MappingVersion is one versioned mapping/validator configuration document.
// At most one row is active; normalizers and rules resolve the most recently
// created active one.
type MappingVersion struct {
	ID          int64
	Version     string
	Description string
	Config      map[string]any
	Active      bool
	CreatedAt   time.Time
}

type JobStatus string

const (
	JobStarted JobStatus = "started"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// JobRun is the audit record wrapped around every ETL operation.
type JobRun struct {
	ID                int64
	RunID             string // uuid
	JobName           string
	BoardID           *int64
	MappingVersion    string
	Status            JobStatus
	StartedAt         time.Time
	FinishedAt        *time.Time
	RecordsPulled     int
	RecordsNormalized int
	RecordsFailed     int
	ErrorSummary      string
	Meta              map[string]any
}

// NotificationChannel is a per-board digest destination (Teams webhook).
// Rules is an allow-list of rule codes; empty means all rules.
type NotificationChannel struct {
	ID         int64
	BoardID    int64
	Name       string
	WebhookURL string
	Rules      []string
	IsActive   bool
}
