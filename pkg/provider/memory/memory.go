// Package memory provides an in-process provider that keeps all resources
// in memory. It records every call, can inject failures and simulates the
// eventual consistency of a real provider, which makes it suitable for
// exercising the reconciliation engine without network access.
package memory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/converge/pkg/digest"
	"github.com/openfroyo/converge/pkg/provider"
)

// AccountID is the account used when building ARNs.
const AccountID = "123456789012"

// Call is one recorded provider call.
type Call struct {
	Service   string
	Operation string
	Target    string
}

// String implements fmt.Stringer.
func (c Call) String() string {
	return fmt.Sprintf("%s.%s(%s)", c.Service, c.Operation, c.Target)
}

var mutating = map[string]bool{
	"CreateBucket":                true,
	"DeleteBucket":                true,
	"PutObject":                   true,
	"DeleteObject":                true,
	"CreateTable":                 true,
	"DeleteTable":                 true,
	"CreateRole":                  true,
	"DeleteRole":                  true,
	"PutRolePolicy":               true,
	"DeleteRolePolicy":            true,
	"AttachRolePolicy":            true,
	"DetachRolePolicy":            true,
	"CreateFunction":              true,
	"UpdateFunctionCode":          true,
	"UpdateFunctionConfiguration": true,
	"PublishVersion":              true,
	"DeleteFunction":              true,
	"PublishLayerVersion":         true,
	"DeleteLayerVersion":          true,
}

// IsMutating reports whether op changes provider state.
func IsMutating(op string) bool {
	return mutating[op]
}

// InvokeHandler produces the result of invoking a function.
type InvokeHandler func(payload []byte) *provider.InvokeOutput

// Options tunes the simulated consistency delays. Each value is the number
// of reads that observe the transitional state before it settles.
type Options struct {
	TableCreatePolls   int
	TableDeletePolls   int
	FunctionPolls      int
	UpdatePolls        int
	RolePropagateCalls int
}

type object struct {
	body     []byte
	metadata map[string]string
}

type bucket struct {
	region  string
	objects map[string]*object
}

type table struct {
	info    provider.TableInfo
	pending int
}

type role struct {
	info     provider.RoleInfo
	policies map[string]string
	attached map[string]bool
	// unusable counts the function creations that will still be rejected.
	unusable int
}

type function struct {
	info          provider.FunctionInfo
	pending       int
	updatePending int
	versions      map[string]*provider.FunctionInfo
	nextVersion   int
}

type layer struct {
	versions []provider.LayerVersion
	next     int64
}

// Provider is an in-memory implementation of every provider service.
type Provider struct {
	mu sync.Mutex

	region string
	opts   Options

	buckets   map[string]*bucket
	tables    map[string]*table
	deleting  map[string]int
	roles     map[string]*role
	functions map[string]*function
	layers    map[string]*layer

	handlers map[string]InvokeHandler
	failures map[string][]error
	calls    []Call
}

// New creates an empty provider for region.
func New(region string, opts Options) *Provider {
	return &Provider{
		region:    region,
		opts:      opts,
		buckets:   make(map[string]*bucket),
		tables:    make(map[string]*table),
		deleting:  make(map[string]int),
		roles:     make(map[string]*role),
		functions: make(map[string]*function),
		layers:    make(map[string]*layer),
		handlers:  make(map[string]InvokeHandler),
		failures:  make(map[string][]error),
	}
}

// Client returns a provider.Client backed by p.
func (p *Provider) Client() *provider.Client {
	return &provider.Client{
		Objects:   p,
		Tables:    p,
		Roles:     p,
		Functions: p,
		Name:      "memory",
	}
}

// Factory adapts a Provider to provider.Factory.
type Factory struct {
	Provider *Provider
}

// NewClient implements provider.Factory.
func (f Factory) NewClient(_ context.Context, _ string) (*provider.Client, error) {
	return f.Provider.Client(), nil
}

// FailNext makes the next call to op fail with err. Calls queue up.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// HandleInvoke installs the handler used when function name is invoked.
func (p *Provider) HandleInvoke(name string, h InvokeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// MutatingCalls returns the recorded calls that change state.
func (p *Provider) MutatingCalls() []Call {
	var out []Call
	for _, c := range p.Calls() {
		if IsMutating(c.Operation) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// record logs the call and returns an injected failure, if any.
// Callers must hold p.mu.
func (p *Provider) record(service, op, target string) error {
	p.calls = append(p.calls, Call{Service: service, Operation: op, Target: target})
	if queued := p.failures[op]; len(queued) > 0 {
		p.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func notFound(service, op, code, what string) error {
	return provider.NewError(service, op, provider.ErrNotFound, code, errors.New(what+" not found"))
}

func alreadyExists(service, op, code, what string) error {
	return provider.NewError(service, op, provider.ErrAlreadyExists, code, errors.New(what+" already exists"))
}

// ObjectStore

// HeadBucket implements provider.ObjectStore.
func (p *Provider) HeadBucket(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "HeadBucket", name); err != nil {
		return err
	}
	if _, ok := p.buckets[name]; !ok {
		return notFound("s3", "HeadBucket", "NotFound", "bucket "+name)
	}
	return nil
}

// CreateBucket implements provider.ObjectStore.
func (p *Provider) CreateBucket(_ context.Context, name, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "CreateBucket", name); err != nil {
		return err
	}
	if _, ok := p.buckets[name]; ok {
		return alreadyExists("s3", "CreateBucket", "BucketAlreadyOwnedByYou", "bucket "+name)
	}
	p.buckets[name] = &bucket{region: region, objects: make(map[string]*object)}
	return nil
}

// DeleteBucket implements provider.ObjectStore.
func (p *Provider) DeleteBucket(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "DeleteBucket", name); err != nil {
		return err
	}
	b, ok := p.buckets[name]
	if !ok {
		return notFound("s3", "DeleteBucket", "NoSuchBucket", "bucket "+name)
	}
	if len(b.objects) > 0 {
		return provider.NewError("s3", "DeleteBucket", nil, "BucketNotEmpty", fmt.Errorf("bucket %s is not empty", name))
	}
	delete(p.buckets, name)
	return nil
}

// HeadObject implements provider.ObjectStore.
func (p *Provider) HeadObject(_ context.Context, bucketName, key string) (*provider.ObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "HeadObject", bucketName+"/"+key); err != nil {
		return nil, err
	}
	b, ok := p.buckets[bucketName]
	if !ok {
		return nil, notFound("s3", "HeadObject", "NotFound", "bucket "+bucketName)
	}
	o, ok := b.objects[key]
	if !ok {
		return nil, notFound("s3", "HeadObject", "NotFound", "object "+key)
	}
	return &provider.ObjectInfo{
		Bucket:   bucketName,
		Key:      key,
		Size:     int64(len(o.body)),
		Metadata: maps.Clone(o.metadata),
	}, nil
}

// PutObject implements provider.ObjectStore.
func (p *Provider) PutObject(_ context.Context, bucketName, key string, body []byte, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "PutObject", bucketName+"/"+key); err != nil {
		return err
	}
	b, ok := p.buckets[bucketName]
	if !ok {
		return notFound("s3", "PutObject", "NoSuchBucket", "bucket "+bucketName)
	}
	b.objects[key] = &object{body: slices.Clone(body), metadata: maps.Clone(metadata)}
	return nil
}

// DeleteObject implements provider.ObjectStore. Like the real service it
// succeeds for a missing key but fails for a missing bucket.
func (p *Provider) DeleteObject(_ context.Context, bucketName, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("s3", "DeleteObject", bucketName+"/"+key); err != nil {
		return err
	}
	b, ok := p.buckets[bucketName]
	if !ok {
		return notFound("s3", "DeleteObject", "NoSuchBucket", "bucket "+bucketName)
	}
	delete(b.objects, key)
	return nil
}

// TableService

// DescribeTable implements provider.TableService.
func (p *Provider) DescribeTable(_ context.Context, name string) (*provider.TableInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("dynamodb", "DescribeTable", name); err != nil {
		return nil, err
	}
	if left, ok := p.deleting[name]; ok {
		if left > 0 {
			p.deleting[name] = left - 1
			return &provider.TableInfo{
				Name:   name,
				ARN:    p.tableARN(name),
				Status: provider.TableStatusDeleting,
			}, nil
		}
		delete(p.deleting, name)
	}
	t, ok := p.tables[name]
	if !ok {
		return nil, notFound("dynamodb", "DescribeTable", "ResourceNotFoundException", "table "+name)
	}
	if t.pending > 0 {
		t.pending--
	} else {
		t.info.Status = provider.TableStatusActive
	}
	info := t.info
	return &info, nil
}

// CreateTable implements provider.TableService.
func (p *Provider) CreateTable(_ context.Context, spec provider.TableSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("dynamodb", "CreateTable", spec.Name); err != nil {
		return err
	}
	if _, ok := p.tables[spec.Name]; ok {
		return alreadyExists("dynamodb", "CreateTable", "ResourceInUseException", "table "+spec.Name)
	}
	status := provider.TableStatusActive
	if p.opts.TableCreatePolls > 0 {
		status = provider.TableStatusCreating
	}
	p.tables[spec.Name] = &table{
		info: provider.TableInfo{
			Name:   spec.Name,
			ARN:    p.tableARN(spec.Name),
			Status: status,
		},
		pending: p.opts.TableCreatePolls,
	}
	return nil
}

// DeleteTable implements provider.TableService.
func (p *Provider) DeleteTable(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("dynamodb", "DeleteTable", name); err != nil {
		return err
	}
	if _, ok := p.tables[name]; !ok {
		return notFound("dynamodb", "DeleteTable", "ResourceNotFoundException", "table "+name)
	}
	delete(p.tables, name)
	if p.opts.TableDeletePolls > 0 {
		p.deleting[name] = p.opts.TableDeletePolls
	}
	return nil
}

func (p *Provider) tableARN(name string) string {
	return fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", p.region, AccountID, name)
}

// RoleService

// GetRole implements provider.RoleService.
func (p *Provider) GetRole(_ context.Context, name string) (*provider.RoleInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "GetRole", name); err != nil {
		return nil, err
	}
	r, ok := p.roles[name]
	if !ok {
		return nil, notFound("iam", "GetRole", "NoSuchEntity", "role "+name)
	}
	info := r.info
	return &info, nil
}

// CreateRole implements provider.RoleService.
func (p *Provider) CreateRole(_ context.Context, name, _ string) (*provider.RoleInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "CreateRole", name); err != nil {
		return nil, err
	}
	if _, ok := p.roles[name]; ok {
		return nil, alreadyExists("iam", "CreateRole", "EntityAlreadyExists", "role "+name)
	}
	r := &role{
		info: provider.RoleInfo{
			Name: name,
			ARN:  fmt.Sprintf("arn:aws:iam::%s:role/%s", AccountID, name),
		},
		policies: make(map[string]string),
		attached: make(map[string]bool),
		unusable: p.opts.RolePropagateCalls,
	}
	p.roles[name] = r
	info := r.info
	return &info, nil
}

// DeleteRole implements provider.RoleService.
func (p *Provider) DeleteRole(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "DeleteRole", name); err != nil {
		return err
	}
	r, ok := p.roles[name]
	if !ok {
		return notFound("iam", "DeleteRole", "NoSuchEntity", "role "+name)
	}
	if len(r.policies) > 0 || len(r.attached) > 0 {
		return provider.NewError("iam", "DeleteRole", nil, "DeleteConflict", fmt.Errorf("role %s still has policies", name))
	}
	delete(p.roles, name)
	return nil
}

// PutRolePolicy implements provider.RoleService.
func (p *Provider) PutRolePolicy(_ context.Context, roleName, policyName, document string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "PutRolePolicy", roleName+"/"+policyName); err != nil {
		return err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return notFound("iam", "PutRolePolicy", "NoSuchEntity", "role "+roleName)
	}
	r.policies[policyName] = document
	return nil
}

// DeleteRolePolicy implements provider.RoleService.
func (p *Provider) DeleteRolePolicy(_ context.Context, roleName, policyName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "DeleteRolePolicy", roleName+"/"+policyName); err != nil {
		return err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return notFound("iam", "DeleteRolePolicy", "NoSuchEntity", "role "+roleName)
	}
	if _, ok := r.policies[policyName]; !ok {
		return notFound("iam", "DeleteRolePolicy", "NoSuchEntity", "policy "+policyName)
	}
	delete(r.policies, policyName)
	return nil
}

// GetRolePolicy implements provider.RoleService.
func (p *Provider) GetRolePolicy(_ context.Context, roleName, policyName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "GetRolePolicy", roleName+"/"+policyName); err != nil {
		return "", err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return "", notFound("iam", "GetRolePolicy", "NoSuchEntity", "role "+roleName)
	}
	doc, ok := r.policies[policyName]
	if !ok {
		return "", notFound("iam", "GetRolePolicy", "NoSuchEntity", "policy "+policyName)
	}
	return doc, nil
}

// ListAttachedRolePolicies implements provider.RoleService.
func (p *Provider) ListAttachedRolePolicies(_ context.Context, roleName string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "ListAttachedRolePolicies", roleName); err != nil {
		return nil, err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return nil, notFound("iam", "ListAttachedRolePolicies", "NoSuchEntity", "role "+roleName)
	}
	return slices.Sorted(maps.Keys(r.attached)), nil
}

// AttachRolePolicy implements provider.RoleService.
func (p *Provider) AttachRolePolicy(_ context.Context, roleName, policyARN string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "AttachRolePolicy", roleName); err != nil {
		return err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return notFound("iam", "AttachRolePolicy", "NoSuchEntity", "role "+roleName)
	}
	r.attached[policyARN] = true
	return nil
}

// DetachRolePolicy implements provider.RoleService.
func (p *Provider) DetachRolePolicy(_ context.Context, roleName, policyARN string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("iam", "DetachRolePolicy", roleName); err != nil {
		return err
	}
	r, ok := p.roles[roleName]
	if !ok {
		return notFound("iam", "DetachRolePolicy", "NoSuchEntity", "role "+roleName)
	}
	if !r.attached[policyARN] {
		return notFound("iam", "DetachRolePolicy", "NoSuchEntity", "attachment "+policyARN)
	}
	delete(r.attached, policyARN)
	return nil
}

// FunctionService

// GetFunction implements provider.FunctionService.
func (p *Provider) GetFunction(_ context.Context, name, qualifier string) (*provider.FunctionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := name
	if qualifier != "" {
		target += ":" + qualifier
	}
	if err := p.record("lambda", "GetFunction", target); err != nil {
		return nil, err
	}
	fn, ok := p.functions[name]
	if !ok {
		return nil, notFound("lambda", "GetFunction", "ResourceNotFoundException", "function "+name)
	}

	if fn.pending > 0 {
		fn.pending--
	} else {
		fn.info.State = provider.FunctionStateActive
	}
	if fn.updatePending > 0 {
		fn.updatePending--
	} else {
		fn.info.LastUpdateStatus = provider.UpdateStatusSuccessful
	}

	if qualifier == "" || qualifier == "$LATEST" {
		return cloneFunction(&fn.info), nil
	}
	v, ok := fn.versions[qualifier]
	if !ok {
		return nil, notFound("lambda", "GetFunction", "ResourceNotFoundException", "version "+target)
	}
	v.State = fn.info.State
	return cloneFunction(v), nil
}

// CreateFunction implements provider.FunctionService.
func (p *Provider) CreateFunction(_ context.Context, spec provider.FunctionSpec) (*provider.FunctionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "CreateFunction", spec.Name); err != nil {
		return nil, err
	}
	if _, ok := p.functions[spec.Name]; ok {
		return nil, alreadyExists("lambda", "CreateFunction", "ResourceConflictException", "function "+spec.Name)
	}
	r := p.roleByARN(spec.Role)
	if r == nil {
		return nil, provider.NewError("lambda", "CreateFunction", nil, "InvalidParameterValueException",
			fmt.Errorf("role %s does not exist", spec.Role))
	}
	if r.unusable > 0 {
		r.unusable--
		return nil, provider.NewError("lambda", "CreateFunction", provider.ErrPropagating, "InvalidParameterValueException",
			errors.New("the role defined for the function cannot be assumed by Lambda"))
	}
	sha, err := p.codeSha("CreateFunction", spec.Code)
	if err != nil {
		return nil, err
	}
	for _, arn := range spec.Layers {
		if !p.layerVersionExists(arn) {
			return nil, provider.NewError("lambda", "CreateFunction", nil, "InvalidParameterValueException",
				fmt.Errorf("layer version %s does not exist", arn))
		}
	}

	state := provider.FunctionStateActive
	if p.opts.FunctionPolls > 0 {
		state = provider.FunctionStatePending
	}
	fn := &function{
		info: provider.FunctionInfo{
			Name:             spec.Name,
			ARN:              p.functionARN(spec.Name),
			Version:          "$LATEST",
			Role:             spec.Role,
			Handler:          spec.Handler,
			Runtime:          spec.Runtime,
			CodeSha256:       sha,
			Layers:           slices.Clone(spec.Layers),
			Environment:      maps.Clone(spec.Environment),
			Timeout:          spec.Timeout,
			MemorySize:       spec.MemorySize,
			State:            state,
			LastUpdateStatus: provider.UpdateStatusSuccessful,
		},
		pending:     p.opts.FunctionPolls,
		versions:    make(map[string]*provider.FunctionInfo),
		nextVersion: 1,
	}
	p.functions[spec.Name] = fn
	return cloneFunction(&fn.info), nil
}

// UpdateFunctionCode implements provider.FunctionService.
func (p *Provider) UpdateFunctionCode(_ context.Context, name string, code provider.CodeLocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "UpdateFunctionCode", name); err != nil {
		return err
	}
	fn, err := p.updatable("UpdateFunctionCode", name)
	if err != nil {
		return err
	}
	sha, err := p.codeSha("UpdateFunctionCode", code)
	if err != nil {
		return err
	}
	fn.info.CodeSha256 = sha
	p.startUpdate(fn)
	return nil
}

// UpdateFunctionConfiguration implements provider.FunctionService.
func (p *Provider) UpdateFunctionConfiguration(_ context.Context, name string, update provider.FunctionConfigUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "UpdateFunctionConfiguration", name); err != nil {
		return err
	}
	fn, err := p.updatable("UpdateFunctionConfiguration", name)
	if err != nil {
		return err
	}
	if update.Role != nil {
		fn.info.Role = *update.Role
	}
	if update.SetLayers {
		fn.info.Layers = slices.Clone(update.Layers)
	}
	if update.Environment != nil {
		fn.info.Environment = maps.Clone(update.Environment)
	}
	if update.Timeout != nil {
		fn.info.Timeout = *update.Timeout
	}
	if update.MemorySize != nil {
		fn.info.MemorySize = *update.MemorySize
	}
	p.startUpdate(fn)
	return nil
}

// PublishVersion implements provider.FunctionService.
func (p *Provider) PublishVersion(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "PublishVersion", name); err != nil {
		return "", err
	}
	fn, err := p.updatable("PublishVersion", name)
	if err != nil {
		return "", err
	}
	version := fmt.Sprintf("%d", fn.nextVersion)
	fn.nextVersion++

	v := cloneFunction(&fn.info)
	v.Version = version
	v.ARN = fn.info.ARN + ":" + version
	fn.versions[version] = v
	if p.opts.FunctionPolls > 0 {
		fn.info.State = provider.FunctionStatePending
		fn.pending = p.opts.FunctionPolls
	}
	return version, nil
}

// DeleteFunction implements provider.FunctionService.
func (p *Provider) DeleteFunction(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "DeleteFunction", name); err != nil {
		return err
	}
	if _, ok := p.functions[name]; !ok {
		return notFound("lambda", "DeleteFunction", "ResourceNotFoundException", "function "+name)
	}
	delete(p.functions, name)
	return nil
}

// Invoke implements provider.FunctionService. Without a handler the
// payload is echoed back.
func (p *Provider) Invoke(_ context.Context, name string, payload []byte) (*provider.InvokeOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "Invoke", name); err != nil {
		return nil, err
	}
	fn, ok := p.functions[name]
	if !ok {
		return nil, notFound("lambda", "Invoke", "ResourceNotFoundException", "function "+name)
	}
	if h, ok := p.handlers[name]; ok {
		return h(payload), nil
	}
	logs := fmt.Sprintf("START RequestId: %s Version: $LATEST\nEND\n", fn.info.Name)
	return &provider.InvokeOutput{
		StatusCode:      200,
		LogResult:       base64.StdEncoding.EncodeToString([]byte(logs)),
		Payload:         slices.Clone(payload),
		ExecutedVersion: "$LATEST",
	}, nil
}

// ListLayerVersions implements provider.FunctionService.
func (p *Provider) ListLayerVersions(_ context.Context, name string) ([]provider.LayerVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "ListLayerVersions", name); err != nil {
		return nil, err
	}
	l, ok := p.layers[name]
	if !ok {
		return nil, nil
	}
	out := slices.Clone(l.versions)
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// PublishLayerVersion implements provider.FunctionService.
func (p *Provider) PublishLayerVersion(_ context.Context, name string, content provider.CodeLocation, _ []string) (*provider.LayerVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "PublishLayerVersion", name); err != nil {
		return nil, err
	}
	sha, err := p.codeSha("PublishLayerVersion", content)
	if err != nil {
		return nil, err
	}
	l, ok := p.layers[name]
	if !ok {
		l = &layer{next: 1}
		p.layers[name] = l
	}
	v := provider.LayerVersion{
		ARN:        p.layerARN(name, l.next),
		Version:    l.next,
		CodeSha256: sha,
		CreatedAt:  time.Now(),
	}
	l.next++
	l.versions = append(l.versions, v)
	return &v, nil
}

// DeleteLayerVersion implements provider.FunctionService. Deleting a
// missing version succeeds, as it does on the real service.
func (p *Provider) DeleteLayerVersion(_ context.Context, name string, version int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("lambda", "DeleteLayerVersion", fmt.Sprintf("%s:%d", name, version)); err != nil {
		return err
	}
	l, ok := p.layers[name]
	if !ok {
		return nil
	}
	l.versions = slices.DeleteFunc(l.versions, func(v provider.LayerVersion) bool {
		return v.Version == version
	})
	if len(l.versions) == 0 {
		delete(p.layers, name)
	}
	return nil
}

// Inspection helpers used by tests.

// BucketNames returns the existing bucket names, sorted.
func (p *Provider) BucketNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.buckets))
}

// ObjectKeys returns the keys stored in bucket, sorted.
func (p *Provider) ObjectKeys(bucketName string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[bucketName]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(b.objects))
}

// ObjectBody returns the stored bytes of an object.
func (p *Provider) ObjectBody(bucketName, key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[bucketName]
	if !ok {
		return nil, false
	}
	o, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(o.body), true
}

// TableNames returns the existing table names, sorted.
func (p *Provider) TableNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.tables))
}

// RoleNames returns the existing role names, sorted.
func (p *Provider) RoleNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.roles))
}

// RolePolicy returns an inline policy document of a role.
func (p *Provider) RolePolicy(roleName, policyName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.roles[roleName]
	if !ok {
		return "", false
	}
	doc, ok := r.policies[policyName]
	return doc, ok
}

// AttachedPolicies returns the managed policies attached to a role.
func (p *Provider) AttachedPolicies(roleName string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.roles[roleName]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(r.attached))
}

// FunctionNames returns the existing function names, sorted.
func (p *Provider) FunctionNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.functions))
}

// Function returns the current configuration of a function.
func (p *Provider) Function(name string) (provider.FunctionInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.functions[name]
	if !ok {
		return provider.FunctionInfo{}, false
	}
	return *cloneFunction(&fn.info), true
}

// PublishedVersions returns the number of versions published for a function.
func (p *Provider) PublishedVersions(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.functions[name]
	if !ok {
		return 0
	}
	return len(fn.versions)
}

// LayerVersionCount returns the number of live versions of a layer.
func (p *Provider) LayerVersionCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.layers[name]
	if !ok {
		return 0
	}
	return len(l.versions)
}

// internal helpers; callers hold p.mu.

func (p *Provider) updatable(op, name string) (*function, error) {
	fn, ok := p.functions[name]
	if !ok {
		return nil, notFound("lambda", op, "ResourceNotFoundException", "function "+name)
	}
	if fn.updatePending > 0 && fn.info.LastUpdateStatus == provider.UpdateStatusInProgress {
		return nil, provider.NewError("lambda", op, provider.ErrConflict, "ResourceConflictException",
			fmt.Errorf("an update is in progress for function %s", name))
	}
	return fn, nil
}

func (p *Provider) startUpdate(fn *function) {
	if p.opts.UpdatePolls > 0 {
		fn.info.LastUpdateStatus = provider.UpdateStatusInProgress
		fn.updatePending = p.opts.UpdatePolls
	}
}

func (p *Provider) codeSha(op string, loc provider.CodeLocation) (string, error) {
	b, ok := p.buckets[loc.Bucket]
	if !ok {
		return "", provider.NewError("lambda", op, nil, "InvalidParameterValueException",
			fmt.Errorf("bucket %s does not exist", loc.Bucket))
	}
	o, ok := b.objects[loc.Key]
	if !ok {
		return "", provider.NewError("lambda", op, nil, "InvalidParameterValueException",
			fmt.Errorf("object %s/%s does not exist", loc.Bucket, loc.Key))
	}
	return digest.Sum(o.body).String(), nil
}

func (p *Provider) roleByARN(arn string) *role {
	for _, r := range p.roles {
		if r.info.ARN == arn {
			return r
		}
	}
	return nil
}

func (p *Provider) layerVersionExists(arn string) bool {
	for _, l := range p.layers {
		for _, v := range l.versions {
			if v.ARN == arn {
				return true
			}
		}
	}
	return false
}

func (p *Provider) functionARN(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", p.region, AccountID, name)
}

func (p *Provider) layerARN(name string, version int64) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:layer:%s:%d", p.region, AccountID, name, version)
}

func cloneFunction(in *provider.FunctionInfo) *provider.FunctionInfo {
	out := *in
	out.Layers = slices.Clone(in.Layers)
	out.Environment = maps.Clone(in.Environment)
	return &out
}
