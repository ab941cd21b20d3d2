package discovery

import (
	"fmt"
	"strings"

	"github.com/opscart/cloud-cost-orchestrator/pkg/datasource"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/pricing"
)

// Rule inspects one workload's utilization and proposes at most one
// optimization.
type Rule interface {
	Name() string
	Evaluate(util *datasource.Utilization, rate *pricing.Rate) *models.OptimizationOpportunity
}

const (
	// requestMargin is the safety margin applied over observed P95 usage
	// when recommending new requests.
	requestMargin = 1.5

	bytesPerGiB = 1024.0 * 1024.0 * 1024.0
)

// RightsizingRule flags workloads whose requests sit far above observed
// P95 usage and proposes requests at P95 with a safety margin.
type RightsizingRule struct {
	// MinHeadroom is the unused fraction of requests below which the
	// workload is considered correctly sized.
	MinHeadroom float64
}

func (r *RightsizingRule) Name() string { return "rightsizing" }

func (r *RightsizingRule) Evaluate(util *datasource.Utilization, rate *pricing.Rate) *models.OptimizationOpportunity {
	minHeadroom := r.MinHeadroom
	if minHeadroom <= 0 {
		minHeadroom = 0.4
	}
	if util.CPURequestCores <= 0 && util.MemoryRequestBytes <= 0 {
		return nil
	}
	if util.CPUHeadroom() < minHeadroom && util.MemoryHeadroom() < minHeadroom {
		return nil
	}

	recommendedCPU := util.CPUUsageCores * requestMargin
	recommendedMem := util.MemoryUsageBytes * requestMargin
	if recommendedCPU >= util.CPURequestCores && recommendedMem >= util.MemoryRequestBytes {
		return nil
	}

	currentCost := rate.MonthlyCost(util.CPURequestCores, util.MemoryRequestBytes/bytesPerGiB)
	recommendedCost := rate.MonthlyCost(recommendedCPU, recommendedMem/bytesPerGiB)
	savings := currentCost - recommendedCost
	if savings <= 0 {
		return nil
	}

	cpuArg := formatCores(recommendedCPU)
	memArg := formatBytes(recommendedMem)
	return &models.OptimizationOpportunity{
		ServiceName: util.ServiceName,
		Resource:    util.Resource,
		Type:        models.OptimizationRightsizing,
		CurrentCost: currentCost,

		PotentialSavings: savings,
		ConfidenceScore:  confidenceFromSamples(util.SampleCount),
		RiskLevel:        riskFromReduction(savings, currentCost),

		Description: fmt.Sprintf("Reduce requests for %s from %s CPU / %s to %s CPU / %s based on P95 usage over %s",
			util.Workload, formatCores(util.CPURequestCores), formatBytes(util.MemoryRequestBytes),
			cpuArg, memArg, util.Window),
		ImplementationSteps: []string{
			"snapshot",
			fmt.Sprintf("resize-requests cpu=%s memory=%s", cpuArg, memArg),
			"verify",
		},
		RollbackSteps: []string{
			fmt.Sprintf("resize-requests cpu=%s memory=%s", formatCores(util.CPURequestCores), formatBytes(util.MemoryRequestBytes)),
		},
		EstimatedMinutes: 5,
	}
}

// UnusedResourceRule flags workloads with effectively no usage and
// proposes scaling them to zero.
type UnusedResourceRule struct {
	// MaxUsageFraction is the usage-to-request ratio below which the
	// workload counts as idle.
	MaxUsageFraction float64
}

func (r *UnusedResourceRule) Name() string { return "unused_resources" }

func (r *UnusedResourceRule) Evaluate(util *datasource.Utilization, rate *pricing.Rate) *models.OptimizationOpportunity {
	maxFraction := r.MaxUsageFraction
	if maxFraction <= 0 {
		maxFraction = 0.02
	}
	if util.CPURequestCores <= 0 {
		return nil
	}
	if util.CPUUsageCores/util.CPURequestCores > maxFraction {
		return nil
	}

	currentCost := rate.MonthlyCost(util.CPURequestCores, util.MemoryRequestBytes/bytesPerGiB)
	if currentCost <= 0 {
		return nil
	}

	return &models.OptimizationOpportunity{
		ServiceName: util.ServiceName,
		Resource:    util.Resource,
		Type:        models.OptimizationUnusedResources,
		CurrentCost: currentCost,

		PotentialSavings: currentCost,
		ConfidenceScore:  confidenceFromSamples(util.SampleCount),
		RiskLevel:        models.RiskMedium,

		Description: fmt.Sprintf("%s used under %.0f%% of its requested CPU over %s; scale to zero",
			util.Workload, maxFraction*100, util.Window),
		ImplementationSteps: []string{
			"snapshot",
			"scale replicas=0",
			"verify",
		},
		RollbackSteps: []string{
			fmt.Sprintf("scale replicas=%d", util.Replicas),
		},
		EstimatedMinutes: 2,
	}
}

// SchedulingRule proposes off-hours shutdown for workloads in
// non-production namespaces. Nights and weekends are roughly 65% of the
// week.
type SchedulingRule struct {
	// NamespaceSuffixes marks namespaces eligible for off-hours scheduling.
	NamespaceSuffixes []string

	OffHours string
}

const offHoursFraction = 0.65

func (r *SchedulingRule) Name() string { return "scheduling" }

func (r *SchedulingRule) Evaluate(util *datasource.Utilization, rate *pricing.Rate) *models.OptimizationOpportunity {
	suffixes := r.NamespaceSuffixes
	if len(suffixes) == 0 {
		suffixes = []string{"-dev", "-staging", "-qa"}
	}
	eligible := false
	for _, suffix := range suffixes {
		if strings.HasSuffix(util.Namespace, suffix) {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil
	}

	currentCost := rate.MonthlyCost(util.CPURequestCores, util.MemoryRequestBytes/bytesPerGiB)
	savings := currentCost * offHoursFraction
	if savings <= 0 {
		return nil
	}

	offHours := r.OffHours
	if offHours == "" {
		offHours = "19:00-07:00"
	}
	return &models.OptimizationOpportunity{
		ServiceName: util.ServiceName,
		Resource:    util.Resource,
		Type:        models.OptimizationScheduling,
		CurrentCost: currentCost,

		PotentialSavings: savings,
		ConfidenceScore:  0.8,
		RiskLevel:        models.RiskLow,

		Description: fmt.Sprintf("Shut down %s outside business hours (%s); namespace %s is non-production",
			util.Workload, offHours, util.Namespace),
		ImplementationSteps: []string{
			"snapshot",
			fmt.Sprintf("annotate downscaler/downtime=%s", offHours),
			"verify",
		},
		RollbackSteps: []string{
			"annotate downscaler/downtime=",
		},
		Prerequisites:    []string{"kube-downscaler deployed in cluster"},
		EstimatedMinutes: 1,
	}
}

// StorageRule flags workloads whose persistent volumes are mostly empty
// and proposes shrinking them to used capacity plus a margin.
type StorageRule struct {
	// MaxUsedFraction is the used-to-provisioned ratio above which the
	// volume is considered adequately sized.
	MaxUsedFraction float64

	// PricePerGiB is the monthly storage rate. Block storage pricing is
	// near-flat across the majors, so a single figure suffices.
	PricePerGiB float64
}

func (r *StorageRule) Name() string { return "storage" }

func (r *StorageRule) Evaluate(util *datasource.Utilization, rate *pricing.Rate) *models.OptimizationOpportunity {
	maxUsed := r.MaxUsedFraction
	if maxUsed <= 0 {
		maxUsed = 0.3
	}
	pricePerGiB := r.PricePerGiB
	if pricePerGiB <= 0 {
		pricePerGiB = 0.10
	}

	if util.VolumeBytesProvisioned <= 0 {
		return nil
	}
	if util.VolumeBytesUsed/util.VolumeBytesProvisioned > maxUsed {
		return nil
	}

	provisionedGiB := util.VolumeBytesProvisioned / bytesPerGiB
	recommendedGiB := util.VolumeBytesUsed / bytesPerGiB * requestMargin
	if recommendedGiB < 1 {
		recommendedGiB = 1
	}
	if recommendedGiB >= provisionedGiB {
		return nil
	}

	currentCost := provisionedGiB * pricePerGiB
	savings := (provisionedGiB - recommendedGiB) * pricePerGiB
	if savings <= 0 {
		return nil
	}

	return &models.OptimizationOpportunity{
		ServiceName: util.ServiceName,
		Resource:    util.Resource,
		Type:        models.OptimizationStorage,
		CurrentCost: currentCost,

		PotentialSavings: savings,
		ConfidenceScore:  confidenceFromSamples(util.SampleCount),
		RiskLevel:        models.RiskHigh, // volume shrink needs a data migration

		Description: fmt.Sprintf("%s uses %.0fGi of %.0fGi provisioned storage; shrink to %.0fGi",
			util.Workload, util.VolumeBytesUsed/bytesPerGiB, provisionedGiB, recommendedGiB),
		ImplementationSteps: []string{
			"snapshot",
			fmt.Sprintf("resize-volume size=%dGi", int(recommendedGiB)),
			"verify",
		},
		RollbackSteps: []string{
			fmt.Sprintf("resize-volume size=%dGi", int(provisionedGiB)),
		},
		Prerequisites:    []string{"storage class supports volume expansion", "backup taken before shrink"},
		EstimatedMinutes: 30,
	}
}

// confidenceFromSamples maps collection depth to a confidence score. A
// single instantaneous sample is weak evidence; a full multi-day window is
// strong.
func confidenceFromSamples(samples int) float64 {
	switch {
	case samples >= 2016: // 7 days at 5m resolution
		return 0.95
	case samples >= 288: // 24 hours
		return 0.85
	case samples >= 12: // 1 hour
		return 0.7
	default:
		return 0.5
	}
}

// riskFromReduction classifies risk by how deep the cut is relative to the
// current footprint.
func riskFromReduction(savings, currentCost float64) models.RiskLevel {
	if currentCost <= 0 {
		return models.RiskHigh
	}
	switch fraction := savings / currentCost; {
	case fraction > 0.7:
		return models.RiskHigh
	case fraction > 0.4:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func formatCores(cores float64) string {
	return fmt.Sprintf("%dm", int(cores*1000))
}

func formatBytes(bytes float64) string {
	return fmt.Sprintf("%dMi", int(bytes/(1024*1024)))
}
