package aiclients

import (
	"context"
	"fmt"
	"strings"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

// Provider names the combined-analysis backend a single-frame request can
// select (spec.md §4.5 Path A: "provider ∈ {default, remote_gpu}").
type Provider string

const (
	ProviderDefault   Provider = "default"
	ProviderRemoteGPU Provider = "remote_gpu"
)

// FrameAnalyzer is the capability every combined-analysis provider exposes:
// given a batch of frames and a policy, return a Report directly.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, frames [][]byte, policy compliance.Policy) (compliance.Report, error)
	Kind() string
}

// visionFrameAnalyzer adapts VisionClient.CombinedAnalysis to FrameAnalyzer.
type visionFrameAnalyzer struct {
	vision *VisionClient
}

func (v *visionFrameAnalyzer) Kind() string { return string(ProviderDefault) }

func (v *visionFrameAnalyzer) AnalyzeFrame(ctx context.Context, frames [][]byte, policy compliance.Policy) (compliance.Report, error) {
	keyframes := make([]compliance.KeyframeData, len(frames))
	for i, f := range frames {
		keyframes[i] = compliance.KeyframeData{Timestamp: float64(i), FrameNumber: i, Trigger: compliance.TriggerWebcamFrame, ImageBytes: f}
	}
	return v.vision.CombinedAnalysis(ctx, keyframes, policy)
}

// remoteGPUFrameAnalyzer adapts RemoteGPUClient to FrameAnalyzer.
type remoteGPUFrameAnalyzer struct {
	client *RemoteGPUClient
}

func (r *remoteGPUFrameAnalyzer) Kind() string { return string(ProviderRemoteGPU) }

func (r *remoteGPUFrameAnalyzer) AnalyzeFrame(ctx context.Context, frames [][]byte, policy compliance.Policy) (compliance.Report, error) {
	return r.client.AnalyzeFrames(ctx, frames, policy)
}

// ParallelBatches forwards to RemoteGPUClient.ParallelBatches, so callers
// holding the registry's remote_gpu entry can run the k-batch fan-out.
func (r *remoteGPUFrameAnalyzer) ParallelBatches(ctx context.Context, batches [][][]byte, policy compliance.Policy, maxConcurrent int) []compliance.Report {
	return r.client.ParallelBatches(ctx, batches, policy, maxConcurrent)
}

// Factory constructs a FrameAnalyzer for a given provider name.
type Factory func() FrameAnalyzer

// Registry maps provider names to constructors, mirroring the vendor
// adapter factory/registry pattern this service's NVR integrations used.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(provider Provider, f Factory) {
	r.factories[strings.ToLower(string(provider))] = f
}

// Get returns the analyzer for the requested provider, falling back to
// ProviderDefault deterministically when the name is empty or unknown.
func (r *Registry) Get(provider string) (FrameAnalyzer, error) {
	kind := strings.ToLower(strings.TrimSpace(provider))
	if kind == "" {
		kind = string(ProviderDefault)
	}
	factory, ok := r.factories[kind]
	if !ok {
		fallback, ok := r.factories[string(ProviderDefault)]
		if ok {
			return fallback(), nil
		}
		return nil, fmt.Errorf("unknown provider %q and no default registered", provider)
	}
	return factory(), nil
}

// NewDefaultRegistry wires the two built-in providers against already
// constructed clients.
func NewDefaultRegistry(vision *VisionClient, remoteGPU *RemoteGPUClient) *Registry {
	reg := NewRegistry()
	reg.Register(ProviderDefault, func() FrameAnalyzer { return &visionFrameAnalyzer{vision: vision} })
	reg.Register(ProviderRemoteGPU, func() FrameAnalyzer { return &remoteGPUFrameAnalyzer{client: remoteGPU} })
	return reg
}
