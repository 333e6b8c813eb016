// Package provider defines the boundary between the reconciliation engine
// and a cloud provider. Each resource kind is served by a small
// capability interface; implementations classify their failures with the
// sentinel errors in this package so the engine can apply its idempotency
// policy without knowing the provider's error vocabulary.
package provider

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket   string
	Key      string
	Size     int64
	Metadata map[string]string
}

// ObjectStore manages buckets and the artifacts stored in them.
type ObjectStore interface {
	// HeadBucket returns nil when the bucket exists and is reachable.
	HeadBucket(ctx context.Context, bucket string) error
	// CreateBucket creates a private bucket in region.
	CreateBucket(ctx context.Context, bucket, region string) error
	DeleteBucket(ctx context.Context, bucket string) error

	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, body []byte, metadata map[string]string) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Table lifecycle states.
const (
	TableStatusCreating = "CREATING"
	TableStatusActive   = "ACTIVE"
	TableStatusDeleting = "DELETING"
)

// TableInfo describes a key-value table.
type TableInfo struct {
	Name   string
	ARN    string
	Status string
}

// TableSpec describes a table to create. The key schema is immutable.
type TableSpec struct {
	Name        string
	HashKey     string
	HashKeyType string
}

// TableService manages key-value tables.
type TableService interface {
	DescribeTable(ctx context.Context, name string) (*TableInfo, error)
	CreateTable(ctx context.Context, spec TableSpec) error
	DeleteTable(ctx context.Context, name string) error
}

// RoleInfo describes an execution role.
type RoleInfo struct {
	Name string
	ARN  string
}

// RoleService manages execution roles and their policies.
type RoleService interface {
	GetRole(ctx context.Context, name string) (*RoleInfo, error)
	CreateRole(ctx context.Context, name, assumeRolePolicy string) (*RoleInfo, error)
	DeleteRole(ctx context.Context, name string) error

	// GetRolePolicy returns the decoded inline policy document.
	GetRolePolicy(ctx context.Context, role, policyName string) (string, error)
	PutRolePolicy(ctx context.Context, role, policyName, document string) error
	DeleteRolePolicy(ctx context.Context, role, policyName string) error
	ListAttachedRolePolicies(ctx context.Context, role string) ([]string, error)
	AttachRolePolicy(ctx context.Context, role, policyARN string) error
	DetachRolePolicy(ctx context.Context, role, policyARN string) error
}

// Function lifecycle states.
const (
	FunctionStatePending  = "Pending"
	FunctionStateActive   = "Active"
	FunctionStateInactive = "Inactive"
	FunctionStateFailed   = "Failed"

	UpdateStatusInProgress = "InProgress"
	UpdateStatusSuccessful = "Successful"
	UpdateStatusFailed     = "Failed"
)

// CodeLocation points at a code archive in object storage.
type CodeLocation struct {
	Bucket string
	Key    string
}

// FunctionInfo is the live configuration of a function or one of its
// published versions.
type FunctionInfo struct {
	Name             string
	ARN              string
	Version          string
	Role             string
	Handler          string
	Runtime          string
	CodeSha256       string
	Layers           []string
	Environment      map[string]string
	Timeout          int32
	MemorySize       int32
	State            string
	LastUpdateStatus string
}

// FunctionSpec describes a function to create.
type FunctionSpec struct {
	Name        string
	Role        string
	Handler     string
	Runtime     string
	Code        CodeLocation
	Layers      []string
	Environment map[string]string
	Timeout     int32
	MemorySize  int32
}

// FunctionConfigUpdate carries only the configuration aspects that
// changed. Nil fields are left untouched.
type FunctionConfigUpdate struct {
	Role        *string
	Layers      []string
	SetLayers   bool
	Environment map[string]string
	Timeout     *int32
	MemorySize  *int32
}

// Empty reports whether the update changes nothing.
func (u FunctionConfigUpdate) Empty() bool {
	return u.Role == nil && !u.SetLayers && u.Environment == nil && u.Timeout == nil && u.MemorySize == nil
}

// LayerVersion is one published version of a layer.
type LayerVersion struct {
	ARN        string
	Version    int64
	CodeSha256 string
	CreatedAt  time.Time
}

// InvokeOutput is the raw result of a synchronous invocation.
type InvokeOutput struct {
	StatusCode    int32
	FunctionError string
	// LogResult is the base64 encoded tail of the execution log.
	LogResult       string
	Payload         []byte
	ExecutedVersion string
}

// FunctionService manages functions, their versions and shared layers.
type FunctionService interface {
	// GetFunction returns the function configuration. A non-empty
	// qualifier selects a published version.
	GetFunction(ctx context.Context, name, qualifier string) (*FunctionInfo, error)
	CreateFunction(ctx context.Context, spec FunctionSpec) (*FunctionInfo, error)
	UpdateFunctionCode(ctx context.Context, name string, code CodeLocation) error
	UpdateFunctionConfiguration(ctx context.Context, name string, update FunctionConfigUpdate) error
	PublishVersion(ctx context.Context, name string) (string, error)
	DeleteFunction(ctx context.Context, name string) error
	Invoke(ctx context.Context, name string, payload []byte) (*InvokeOutput, error)

	// ListLayerVersions returns the published versions, newest first.
	// Only the newest entry is guaranteed to carry CodeSha256.
	ListLayerVersions(ctx context.Context, layer string) ([]LayerVersion, error)
	PublishLayerVersion(ctx context.Context, layer string, content CodeLocation, runtimes []string) (*LayerVersion, error)
	DeleteLayerVersion(ctx context.Context, layer string, version int64) error
}

// Client bundles the per-kind services. One Client is built per run and
// passed explicitly to every component that talks to the provider.
type Client struct {
	Objects   ObjectStore
	Tables    TableService
	Roles     RoleService
	Functions FunctionService

	// Name identifies the provider in logs and metrics.
	Name string
}

// Factory builds a Client for a region.
type Factory interface {
	NewClient(ctx context.Context, region string) (*Client, error)
}
