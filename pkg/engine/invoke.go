package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// Invocation is the result of a synchronous function invocation.
type Invocation struct {
	Function        string        `json:"function"`
	Name            string        `json:"name"`
	StatusCode      int32         `json:"status_code"`
	ExecutedVersion string        `json:"executed_version,omitempty"`
	FunctionError   string        `json:"function_error,omitempty"`
	Response        string        `json:"response"`
	Logs            string        `json:"logs,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Gateway invokes the deployed functions of one deployment.
type Gateway struct {
	cfg    *config.DeploymentConfig
	client *provider.Client
	tel    *telemetry.Telemetry
	log    *telemetry.Logger
}

// NewGateway returns a gateway for cfg. A nil tel records nothing.
func NewGateway(cfg *config.DeploymentConfig, client *provider.Client, tel *telemetry.Telemetry) *Gateway {
	if tel == nil {
		tel = telemetry.Discard()
	}
	return &Gateway{
		cfg:    cfg,
		client: client,
		tel:    tel,
		log:    tel.Logger.NewComponentLogger("gateway"),
	}
}

// Invoke calls function with payload and waits for the response. An
// empty payload is sent as {}. A status outside 200..299 returns an
// invocation error together with the raw result.
func (g *Gateway) Invoke(ctx context.Context, function string, payload json.RawMessage) (*Invocation, error) {
	if _, ok := g.cfg.Function(function); !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown function %q", function)).
			WithDetail("function", function)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	name := FunctionName(g.cfg, function)
	log := g.log.WithResource(string(KindFunction), name)

	ctx, span := g.tel.Tracer.StartInvokeSpan(ctx, name)
	defer span.End()

	timer := telemetry.NewTimer()
	out, err := g.client.Functions.Invoke(ctx, name, payload)
	if err != nil {
		err = wrap(KindFunction, name, "invoke", err)
		telemetry.RecordError(span, err)
		g.tel.Metrics.RecordInvocation(function, "error")
		g.tel.Metrics.RecordError(string(Classify(err)))
		return nil, err
	}

	inv := &Invocation{
		Function:        function,
		Name:            name,
		StatusCode:      out.StatusCode,
		ExecutedVersion: out.ExecutedVersion,
		FunctionError:   out.FunctionError,
		Response:        string(out.Payload),
		Logs:            decodeLogs(out.LogResult),
		Duration:        timer.Duration(),
	}

	if out.StatusCode < 200 || out.StatusCode > 299 {
		err := NewError(ErrorClassInvocation, fmt.Sprintf("invocation returned status %d", out.StatusCode), nil).
			WithResource(KindFunction, name).
			WithOperation("invoke").
			WithDetail("status", out.StatusCode).
			WithDetail("response", inv.Response)
		telemetry.RecordError(span, err)
		g.tel.Metrics.RecordInvocation(function, "failed")
		g.tel.Metrics.RecordError(string(ErrorClassInvocation))
		log.WithError(err).Warn("invocation failed")
		return inv, err
	}

	status := "ok"
	if inv.FunctionError != "" {
		status = "function_error"
		log.Warnf("function reported %s", inv.FunctionError)
	}
	g.tel.Metrics.RecordInvocation(function, status)
	telemetry.RecordSuccess(span)
	log.Debugf("invoked in %s", inv.Duration)
	return inv, nil
}

// decodeLogs decodes the base64 log tail, returning it unchanged when it
// is not valid base64.
func decodeLogs(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}
