package aws

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/openfroyo/converge/pkg/provider"
)

type iamAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, opts ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, opts ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, opts ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, opts ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, opts ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
}

// RoleService implements provider.RoleService on IAM.
type RoleService struct {
	api iamAPI
}

var _ provider.RoleService = (*RoleService)(nil)

func (r *RoleService) GetRole(ctx context.Context, name string) (*provider.RoleInfo, error) {
	out, err := r.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, classify("iam", "GetRole", err)
	}
	return &provider.RoleInfo{
		Name: aws.ToString(out.Role.RoleName),
		ARN:  aws.ToString(out.Role.Arn),
	}, nil
}

func (r *RoleService) CreateRole(ctx context.Context, name, assumeRolePolicy string) (*provider.RoleInfo, error) {
	out, err := r.api.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(assumeRolePolicy),
	})
	if err != nil {
		return nil, classify("iam", "CreateRole", err)
	}
	return &provider.RoleInfo{
		Name: aws.ToString(out.Role.RoleName),
		ARN:  aws.ToString(out.Role.Arn),
	}, nil
}

func (r *RoleService) DeleteRole(ctx context.Context, name string) error {
	_, err := r.api.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	return classify("iam", "DeleteRole", err)
}

// GetRolePolicy returns the inline document. IAM returns it URL-encoded.
func (r *RoleService) GetRolePolicy(ctx context.Context, role, policyName string) (string, error) {
	out, err := r.api.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   aws.String(role),
		PolicyName: aws.String(policyName),
	})
	if err != nil {
		return "", classify("iam", "GetRolePolicy", err)
	}
	doc, err := url.QueryUnescape(aws.ToString(out.PolicyDocument))
	if err != nil {
		return "", provider.NewError("iam", "GetRolePolicy", nil, "",
			fmt.Errorf("failed to decode policy document: %w", err))
	}
	return doc, nil
}

func (r *RoleService) PutRolePolicy(ctx context.Context, role, policyName, document string) error {
	_, err := r.api.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(policyName),
		PolicyDocument: aws.String(document),
	})
	return classify("iam", "PutRolePolicy", err)
}

func (r *RoleService) DeleteRolePolicy(ctx context.Context, role, policyName string) error {
	_, err := r.api.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(role),
		PolicyName: aws.String(policyName),
	})
	return classify("iam", "DeleteRolePolicy", err)
}

func (r *RoleService) ListAttachedRolePolicies(ctx context.Context, role string) ([]string, error) {
	var arns []string
	p := iam.NewListAttachedRolePoliciesPaginator(r.api, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(role),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("iam", "ListAttachedRolePolicies", err)
		}
		for _, ap := range page.AttachedPolicies {
			arns = append(arns, aws.ToString(ap.PolicyArn))
		}
	}
	return arns, nil
}

func (r *RoleService) AttachRolePolicy(ctx context.Context, role, policyARN string) error {
	_, err := r.api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyARN),
	})
	return classify("iam", "AttachRolePolicy", err)
}

func (r *RoleService) DetachRolePolicy(ctx context.Context, role, policyARN string) error {
	_, err := r.api.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyARN),
	})
	return classify("iam", "DetachRolePolicy", err)
}
