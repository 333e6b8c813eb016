package aws

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/openfroyo/converge/pkg/provider"
)

// layerDateLayout is the format of LayerVersionsListItem.CreatedDate.
const layerDateLayout = "2006-01-02T15:04:05.000-0700"

type lambdaAPI interface {
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, opts ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, in *lambda.UpdateFunctionConfigurationInput, opts ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	PublishVersion(ctx context.Context, in *lambda.PublishVersionInput, opts ...func(*lambda.Options)) (*lambda.PublishVersionOutput, error)
	DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
	ListLayerVersions(ctx context.Context, in *lambda.ListLayerVersionsInput, opts ...func(*lambda.Options)) (*lambda.ListLayerVersionsOutput, error)
	GetLayerVersion(ctx context.Context, in *lambda.GetLayerVersionInput, opts ...func(*lambda.Options)) (*lambda.GetLayerVersionOutput, error)
	PublishLayerVersion(ctx context.Context, in *lambda.PublishLayerVersionInput, opts ...func(*lambda.Options)) (*lambda.PublishLayerVersionOutput, error)
	DeleteLayerVersion(ctx context.Context, in *lambda.DeleteLayerVersionInput, opts ...func(*lambda.Options)) (*lambda.DeleteLayerVersionOutput, error)
}

// FunctionService implements provider.FunctionService on Lambda.
type FunctionService struct {
	api lambdaAPI
}

var _ provider.FunctionService = (*FunctionService)(nil)

func (f *FunctionService) GetFunction(ctx context.Context, name, qualifier string) (*provider.FunctionInfo, error) {
	in := &lambda.GetFunctionInput{FunctionName: aws.String(name)}
	if qualifier != "" {
		in.Qualifier = aws.String(qualifier)
	}
	out, err := f.api.GetFunction(ctx, in)
	if err != nil {
		return nil, classify("lambda", "GetFunction", err)
	}
	if out.Configuration == nil {
		return nil, provider.NewError("lambda", "GetFunction", provider.ErrNotFound, "", nil)
	}
	return functionInfo(out.Configuration), nil
}

func functionInfo(c *types.FunctionConfiguration) *provider.FunctionInfo {
	info := &provider.FunctionInfo{
		Name:             aws.ToString(c.FunctionName),
		ARN:              aws.ToString(c.FunctionArn),
		Version:          aws.ToString(c.Version),
		Role:             aws.ToString(c.Role),
		Handler:          aws.ToString(c.Handler),
		Runtime:          string(c.Runtime),
		CodeSha256:       aws.ToString(c.CodeSha256),
		Timeout:          aws.ToInt32(c.Timeout),
		MemorySize:       aws.ToInt32(c.MemorySize),
		State:            string(c.State),
		LastUpdateStatus: string(c.LastUpdateStatus),
		Environment:      map[string]string{},
	}
	for _, l := range c.Layers {
		info.Layers = append(info.Layers, aws.ToString(l.Arn))
	}
	if c.Environment != nil && c.Environment.Variables != nil {
		info.Environment = c.Environment.Variables
	}
	return info
}

func (f *FunctionService) CreateFunction(ctx context.Context, spec provider.FunctionSpec) (*provider.FunctionInfo, error) {
	in := &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		Role:         aws.String(spec.Role),
		Handler:      aws.String(spec.Handler),
		Runtime:      types.Runtime(spec.Runtime),
		Code: &types.FunctionCode{
			S3Bucket: aws.String(spec.Code.Bucket),
			S3Key:    aws.String(spec.Code.Key),
		},
		Layers:      spec.Layers,
		Environment: &types.Environment{Variables: spec.Environment},
	}
	if spec.Timeout > 0 {
		in.Timeout = aws.Int32(spec.Timeout)
	}
	if spec.MemorySize > 0 {
		in.MemorySize = aws.Int32(spec.MemorySize)
	}

	out, err := f.api.CreateFunction(ctx, in)
	if err != nil {
		return nil, classify("lambda", "CreateFunction", err)
	}
	info := &provider.FunctionInfo{
		Name:             aws.ToString(out.FunctionName),
		ARN:              aws.ToString(out.FunctionArn),
		Version:          aws.ToString(out.Version),
		Role:             aws.ToString(out.Role),
		CodeSha256:       aws.ToString(out.CodeSha256),
		State:            string(out.State),
		LastUpdateStatus: string(out.LastUpdateStatus),
	}
	return info, nil
}

func (f *FunctionService) UpdateFunctionCode(ctx context.Context, name string, code provider.CodeLocation) error {
	_, err := f.api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(name),
		S3Bucket:     aws.String(code.Bucket),
		S3Key:        aws.String(code.Key),
	})
	return classify("lambda", "UpdateFunctionCode", err)
}

func (f *FunctionService) UpdateFunctionConfiguration(ctx context.Context, name string, update provider.FunctionConfigUpdate) error {
	in := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		Role:         update.Role,
		Timeout:      update.Timeout,
		MemorySize:   update.MemorySize,
	}
	if update.SetLayers {
		in.Layers = update.Layers
		if in.Layers == nil {
			in.Layers = []string{}
		}
	}
	if update.Environment != nil {
		in.Environment = &types.Environment{Variables: update.Environment}
	}
	_, err := f.api.UpdateFunctionConfiguration(ctx, in)
	return classify("lambda", "UpdateFunctionConfiguration", err)
}

func (f *FunctionService) PublishVersion(ctx context.Context, name string) (string, error) {
	out, err := f.api.PublishVersion(ctx, &lambda.PublishVersionInput{FunctionName: aws.String(name)})
	if err != nil {
		return "", classify("lambda", "PublishVersion", err)
	}
	return aws.ToString(out.Version), nil
}

func (f *FunctionService) DeleteFunction(ctx context.Context, name string) error {
	_, err := f.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	return classify("lambda", "DeleteFunction", err)
}

func (f *FunctionService) Invoke(ctx context.Context, name string, payload []byte) (*provider.InvokeOutput, error) {
	out, err := f.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(name),
		InvocationType: types.InvocationTypeRequestResponse,
		LogType:        types.LogTypeTail,
		Payload:        payload,
	})
	if err != nil {
		return nil, classify("lambda", "Invoke", err)
	}
	return &provider.InvokeOutput{
		StatusCode:      out.StatusCode,
		FunctionError:   aws.ToString(out.FunctionError),
		LogResult:       aws.ToString(out.LogResult),
		Payload:         out.Payload,
		ExecutedVersion: aws.ToString(out.ExecutedVersion),
	}, nil
}

// ListLayerVersions returns the versions newest first. The list call does
// not report content hashes, so the newest version is resolved with
// GetLayerVersion; older entries carry no CodeSha256.
func (f *FunctionService) ListLayerVersions(ctx context.Context, layer string) ([]provider.LayerVersion, error) {
	var versions []provider.LayerVersion
	p := lambda.NewListLayerVersionsPaginator(f.api, &lambda.ListLayerVersionsInput{
		LayerName: aws.String(layer),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			err = classify("lambda", "ListLayerVersions", err)
			if provider.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, item := range page.LayerVersions {
			v := provider.LayerVersion{
				ARN:     aws.ToString(item.LayerVersionArn),
				Version: item.Version,
			}
			if t, err := time.Parse(layerDateLayout, aws.ToString(item.CreatedDate)); err == nil {
				v.CreatedAt = t
			}
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })

	out, err := f.api.GetLayerVersion(ctx, &lambda.GetLayerVersionInput{
		LayerName:     aws.String(layer),
		VersionNumber: aws.Int64(versions[0].Version),
	})
	if err != nil {
		return nil, classify("lambda", "GetLayerVersion", err)
	}
	if out.Content != nil {
		versions[0].CodeSha256 = aws.ToString(out.Content.CodeSha256)
	}
	return versions, nil
}

func (f *FunctionService) PublishLayerVersion(ctx context.Context, layer string, content provider.CodeLocation, runtimes []string) (*provider.LayerVersion, error) {
	compatible := make([]types.Runtime, 0, len(runtimes))
	for _, r := range runtimes {
		compatible = append(compatible, types.Runtime(r))
	}

	out, err := f.api.PublishLayerVersion(ctx, &lambda.PublishLayerVersionInput{
		LayerName: aws.String(layer),
		Content: &types.LayerVersionContentInput{
			S3Bucket: aws.String(content.Bucket),
			S3Key:    aws.String(content.Key),
		},
		CompatibleRuntimes: compatible,
	})
	if err != nil {
		return nil, classify("lambda", "PublishLayerVersion", err)
	}

	v := &provider.LayerVersion{
		ARN:     aws.ToString(out.LayerVersionArn),
		Version: out.Version,
	}
	if out.Content != nil {
		v.CodeSha256 = aws.ToString(out.Content.CodeSha256)
	}
	if t, err := time.Parse(layerDateLayout, aws.ToString(out.CreatedDate)); err == nil {
		v.CreatedAt = t
	}
	return v, nil
}

func (f *FunctionService) DeleteLayerVersion(ctx context.Context, layer string, version int64) error {
	_, err := f.api.DeleteLayerVersion(ctx, &lambda.DeleteLayerVersionInput{
		LayerName:     aws.String(layer),
		VersionNumber: aws.Int64(version),
	})
	return classify("lambda", "DeleteLayerVersion", err)
}
