package config

import (
	"path/filepath"
	"time"

	"github.com/openfroyo/converge/pkg/naming"
)

// DeploymentConfig describes one deployment of a service. It is loaded
// once per run and treated as immutable afterwards.
type DeploymentConfig struct {
	// DeploymentID distinguishes independent deployments of the same
	// service (e.g., "dev", "prod").
	DeploymentID string `yaml:"deployment_id" json:"deployment_id" validate:"required,max=32,identity"`

	// ServiceName is the name of the deployed service.
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required,max=48,identity"`

	// Region is the provider region every resource lives in.
	Region string `yaml:"region" json:"region" validate:"required"`

	// Root is the directory relative paths are resolved against. It
	// defaults to the directory holding the config file.
	Root string `yaml:"root,omitempty" json:"root,omitempty"`

	// DataDir holds built artifacts, relative to Root.
	DataDir string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`

	// CodePath is the code package source: a directory or a prebuilt .zip.
	CodePath string `yaml:"code_path" json:"code_path" validate:"required"`

	// SourcePath is the service source placed under python/ in the shared
	// layer. Defaults to CodePath.
	SourcePath string `yaml:"source_path,omitempty" json:"source_path,omitempty"`

	// ManifestPath is the dependency manifest installed into the shared
	// layer. Empty means the layer carries no dependencies.
	ManifestPath string `yaml:"manifest_path,omitempty" json:"manifest_path,omitempty"`

	// FunctionTimeout is the per-invocation timeout in seconds.
	FunctionTimeout int `yaml:"function_timeout,omitempty" json:"function_timeout,omitempty" validate:"min=1,max=900"`

	// Runtime is the function runtime identifier.
	Runtime string `yaml:"runtime,omitempty" json:"runtime,omitempty" validate:"required"`

	// MemorySize is the function memory in MB. Zero keeps the provider default.
	MemorySize int `yaml:"memory_size,omitempty" json:"memory_size,omitempty" validate:"omitempty,min=128,max=10240"`

	// Functions lists the externally invokable entry points.
	Functions []FunctionConfig `yaml:"functions,omitempty" json:"functions,omitempty" validate:"required,min=1,unique=Name,dive"`

	// ResumeFunction names the function other functions invoke to resume
	// suspended work.
	ResumeFunction string `yaml:"resume_function,omitempty" json:"resume_function,omitempty" validate:"required"`

	// Endpoint overrides the provider endpoint (e.g., a local emulator).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`

	// InstallCommand installs the manifest into the layer tree. The
	// placeholders {manifest} and {target} are substituted.
	InstallCommand []string `yaml:"install_command,omitempty" json:"install_command,omitempty"`
}

// FunctionConfig describes one compute function.
type FunctionConfig struct {
	// Name is the entry point name; it suffixes the function resource name.
	Name string `yaml:"name" json:"name" validate:"required,max=24,identifier"`

	// Handler is the runtime handler reference.
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty" validate:"required"`

	// NeedsSharedCode attaches the shared layer to the function.
	NeedsSharedCode bool `yaml:"needs_shared_code,omitempty" json:"needs_shared_code,omitempty"`
}

// Default values.
const (
	DefaultDataDir         = ".converge"
	DefaultFunctionTimeout = 30
	DefaultRuntime         = "python3.12"
	DefaultResumeFunction  = "resume"
	DefaultHandlerPackage  = "converge_runtime.handlers"
)

// DefaultInstallCommand installs a requirements manifest into the layer tree.
var DefaultInstallCommand = []string{"pip", "install", "--quiet", "-r", "{manifest}", "--target", "{target}"}

// DefaultFunctions returns the standard entry points.
func DefaultFunctions() []FunctionConfig {
	names := []string{"set_exe", "new", "resume", "getoutput", "getevents", "version"}
	fns := make([]FunctionConfig, 0, len(names))
	for _, n := range names {
		fns = append(fns, FunctionConfig{
			Name:            n,
			Handler:         DefaultHandlerPackage + "." + n,
			NeedsSharedCode: n == "new" || n == "resume",
		})
	}
	return fns
}

// ApplyDefaults fills in every unset optional field.
func (c *DeploymentConfig) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.SourcePath == "" {
		c.SourcePath = c.CodePath
	}
	if c.FunctionTimeout == 0 {
		c.FunctionTimeout = DefaultFunctionTimeout
	}
	if c.Runtime == "" {
		c.Runtime = DefaultRuntime
	}
	if len(c.Functions) == 0 {
		c.Functions = DefaultFunctions()
	}
	for i := range c.Functions {
		if c.Functions[i].Handler == "" {
			c.Functions[i].Handler = DefaultHandlerPackage + "." + c.Functions[i].Name
		}
	}
	if c.ResumeFunction == "" {
		c.ResumeFunction = DefaultResumeFunction
	}
	if len(c.InstallCommand) == 0 {
		c.InstallCommand = append([]string(nil), DefaultInstallCommand...)
	}
}

// Identity returns the deployment identity every resource name derives from.
func (c *DeploymentConfig) Identity() naming.Identity {
	return naming.Identity{DeploymentID: c.DeploymentID, ServiceName: c.ServiceName}
}

// Function returns the named function configuration.
func (c *DeploymentConfig) Function(name string) (FunctionConfig, bool) {
	for _, fn := range c.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionConfig{}, false
}

// Timeout returns the function timeout as a duration.
func (c *DeploymentConfig) Timeout() time.Duration {
	return time.Duration(c.FunctionTimeout) * time.Second
}

// Resolve returns p relative to Root unless it is already absolute.
func (c *DeploymentConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// ArtifactDir is the absolute directory built artifacts are written to.
func (c *DeploymentConfig) ArtifactDir() string {
	return c.Resolve(c.DataDir)
}

// WatchPaths returns the paths whose changes warrant a redeploy.
func (c *DeploymentConfig) WatchPaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range []string{c.CodePath, c.SourcePath, c.ManifestPath} {
		if p == "" {
			continue
		}
		abs := c.Resolve(p)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// ValidationError represents a configuration problem.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "functions[2].name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = filepathLine(e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}
