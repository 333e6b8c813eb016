package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
)

// Execution role constants.
const (
	RolePolicyName        = "default"
	basicExecutionPolicy  = "policy/service-role/AWSLambdaBasicExecutionRole"
	functionPrincipal     = "lambda.amazonaws.com"
	policyDocumentVersion = "2012-10-17"
)

// TableActions are the table operations granted to the execution role.
var TableActions = []string{
	"dynamodb:Query",
	"dynamodb:Scan",
	"dynamodb:GetItem",
	"dynamodb:PutItem",
	"dynamodb:UpdateItem",
	"dynamodb:DeleteItem",
	"dynamodb:DescribeTable",
}

// PolicyDocument is an IAM-style policy document.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is one statement of a PolicyDocument.
type PolicyStatement struct {
	Effect    string            `json:"Effect"`
	Action    []string          `json:"Action"`
	Resource  string            `json:"Resource,omitempty"`
	Principal map[string]string `json:"Principal,omitempty"`
}

// TrustPolicy returns the assume-role document allowing the function
// service to assume the role.
func TrustPolicy() PolicyDocument {
	return PolicyDocument{
		Version: policyDocumentVersion,
		Statement: []PolicyStatement{{
			Effect:    "Allow",
			Action:    []string{"sts:AssumeRole"},
			Principal: map[string]string{"Service": functionPrincipal},
		}},
	}
}

// PermissionsPolicy returns the inline policy granting table access on
// exactly tableARN and invocation of exactly resumeARN.
func PermissionsPolicy(tableARN, resumeARN string) PolicyDocument {
	return PolicyDocument{
		Version: policyDocumentVersion,
		Statement: []PolicyStatement{
			{
				Effect:   "Allow",
				Action:   slices.Clone(TableActions),
				Resource: tableARN,
			},
			{
				Effect:   "Allow",
				Action:   []string{"lambda:InvokeFunction"},
				Resource: resumeARN,
			},
		},
	}
}

// JSON renders the document.
func (p PolicyDocument) JSON() string {
	b, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("policy document does not marshal: %v", err))
	}
	return string(b)
}

// arnParts splits an ARN into partition and account.
func arnParts(arn string) (partition, account string, err error) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" || parts[4] == "" {
		return "", "", fmt.Errorf("malformed ARN %q", arn)
	}
	return parts[1], parts[4], nil
}

// ResumeFunctionARN derives the ARN of the resume function from the role
// ARN's partition and account plus the deployment region.
func ResumeFunctionARN(cfg *config.DeploymentConfig, roleARN string) (string, error) {
	partition, account, err := arnParts(roleARN)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:%s:lambda:%s:%s:function:%s",
		partition, cfg.Region, account, FunctionName(cfg, cfg.ResumeFunction)), nil
}

func managedPolicyARN(roleARN string) string {
	partition, _, err := arnParts(roleARN)
	if err != nil {
		partition = "aws"
	}
	return fmt.Sprintf("arn:%s:iam::aws:%s", partition, basicExecutionPolicy)
}

// sameDocument compares two JSON documents structurally.
func sameDocument(a, b string) bool {
	var x, y interface{}
	if json.Unmarshal([]byte(a), &x) != nil || json.Unmarshal([]byte(b), &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}

// roleDescriptor manages the execution role, its inline policy and the
// managed basic-execution attachment.
type roleDescriptor struct {
	table tableDescriptor
}

func (roleDescriptor) Kind() Kind        { return KindRole }
func (roleDescriptor) Label() string     { return string(KindRole) }
func (roleDescriptor) DependsOn() []Kind { return []Kind{KindTable} }

func (roleDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return RoleName(cfg)
}

func (d roleDescriptor) get(ctx context.Context, env *Env) (*provider.RoleInfo, error) {
	info, err := env.Client.Roles.GetRole(ctx, RoleName(env.Config))
	if provider.IsNotFound(err) {
		return nil, nil
	}
	return info, err
}

func (d roleDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	info, err := d.get(ctx, env)
	return info != nil, err
}

// Reference returns the role ARN.
func (d roleDescriptor) Reference(ctx context.Context, env *Env) (string, error) {
	info, err := d.get(ctx, env)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", NewError(ErrorClassNotFound, "role does not exist", nil).
			WithResource(KindRole, RoleName(env.Config))
	}
	return info.ARN, nil
}

func (d roleDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	name := RoleName(env.Config)
	trust := TrustPolicy().JSON()

	info, err := d.get(ctx, env)
	if err != nil {
		return "", err
	}

	outcome := OutcomeUnchanged
	if info == nil {
		info, err = env.Client.Roles.CreateRole(ctx, name, trust)
		if provider.IsAlreadyExists(err) {
			info, err = d.get(ctx, env)
		}
		if err != nil {
			return "", err
		}
		if info == nil {
			return "", NewDeploymentError("role vanished after creation", nil)
		}
		outcome = OutcomeCreated

		if err := env.wait(ctx, "role readable", func(ctx context.Context) (bool, error) {
			return d.Exists(ctx, env)
		}); err != nil {
			return "", err
		}
	}

	changed, err := d.convergePolicies(ctx, env, info.ARN, trust)
	if err != nil {
		return "", err
	}
	if changed && outcome == OutcomeUnchanged {
		outcome = OutcomeUpdated
	}
	return outcome, nil
}

// convergePolicies puts the inline policy and attaches the managed policy
// when they differ from the live role.
func (d roleDescriptor) convergePolicies(ctx context.Context, env *Env, roleARN, trust string) (bool, error) {
	name := RoleName(env.Config)

	tableARN, err := d.table.Reference(ctx, env)
	if err != nil {
		return false, err
	}
	if err := d.check(ctx, env, trust, tableARN, roleARN); err != nil {
		return false, err
	}
	resumeARN, err := ResumeFunctionARN(env.Config, roleARN)
	if err != nil {
		return false, err
	}
	want := PermissionsPolicy(tableARN, resumeARN).JSON()

	changed := false
	live, err := env.Client.Roles.GetRolePolicy(ctx, name, RolePolicyName)
	if err != nil && !provider.IsNotFound(err) {
		return false, err
	}
	if err != nil || !sameDocument(live, want) {
		if err := env.Client.Roles.PutRolePolicy(ctx, name, RolePolicyName, want); err != nil {
			return false, err
		}
		changed = true
	}

	attached, err := env.Client.Roles.ListAttachedRolePolicies(ctx, name)
	if err != nil {
		return false, err
	}
	managed := managedPolicyARN(roleARN)
	if !slices.Contains(attached, managed) {
		if err := env.Client.Roles.AttachRolePolicy(ctx, name, managed); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// check runs the guard over the documents the role would carry.
func (d roleDescriptor) check(ctx context.Context, env *Env, trust, tableARN, roleARN string) error {
	if env.Guard == nil {
		return nil
	}
	resumeARN, err := ResumeFunctionARN(env.Config, roleARN)
	if err != nil {
		return err
	}
	if err := env.Guard.CheckRolePolicy(ctx, trust, PermissionsPolicy(tableARN, resumeARN).JSON()); err != nil {
		return NewError(ErrorClassValidation, "role policy rejected by guardrail", err)
	}
	return nil
}

func (d roleDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	info, err := d.get(ctx, env)
	if err != nil {
		return "", err
	}
	if info == nil {
		return OutcomeAbsent, nil
	}
	name := RoleName(env.Config)

	if err := env.Client.Roles.DeleteRolePolicy(ctx, name, RolePolicyName); err != nil && !provider.IsNotFound(err) {
		return "", err
	}
	if err := env.Client.Roles.DetachRolePolicy(ctx, name, managedPolicyARN(info.ARN)); err != nil && !provider.IsNotFound(err) {
		return "", err
	}
	err = env.Client.Roles.DeleteRole(ctx, name)
	switch {
	case err == nil:
		return OutcomeDeleted, nil
	case provider.IsNotFound(err):
		return OutcomeAbsent, nil
	default:
		return "", err
	}
}
