// Package discovery scans utilization data for cost-saving opportunities
// and feeds them to the orchestrator in state discovered.
package discovery

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opscart/cloud-cost-orchestrator/pkg/datasource"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/pricing"
)

// Options tunes what discovery reports.
type Options struct {
	Namespaces []string
	Window     time.Duration
	// MinSavings drops opportunities below this monthly dollar estimate.
	MinSavings float64
	// MinConfidence drops low-evidence opportunities.
	MinConfidence float64
	// TTL sets how long a discovered opportunity stays actionable.
	TTL time.Duration
	// Concurrency bounds parallel namespace scans.
	Concurrency int
}

// Discoverer runs all rules over each workload's utilization and returns
// the surviving opportunities ranked by savings.
type Discoverer struct {
	source datasource.Source
	rates  pricing.Provider
	rules  []Rule
	opts   Options
}

// New creates a discoverer. With no explicit rules the default rule set is
// used.
func New(source datasource.Source, rates pricing.Provider, opts Options, rules ...Rule) *Discoverer {
	if len(rules) == 0 {
		rules = []Rule{
			&RightsizingRule{},
			&UnusedResourceRule{},
			&SchedulingRule{},
			&StorageRule{},
		}
	}
	if opts.Window <= 0 {
		opts.Window = 7 * 24 * time.Hour
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Discoverer{source: source, rates: rates, rules: rules, opts: opts}
}

// Discover scans all configured namespaces in parallel.
func (d *Discoverer) Discover(ctx context.Context) ([]*models.OptimizationOpportunity, error) {
	namespaces := d.opts.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{"default"}
	}

	var mu sync.Mutex
	var found []*models.OptimizationOpportunity

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.opts.Concurrency)
	for _, namespace := range namespaces {
		ns := namespace
		group.Go(func() error {
			opportunities, err := d.scanNamespace(groupCtx, ns)
			if err != nil {
				return fmt.Errorf("scan of namespace %s failed: %w", ns, err)
			}
			mu.Lock()
			found = append(found, opportunities...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Rank by savings, high to low; risk breaks ties low to high.
	sort.Slice(found, func(i, j int) bool {
		if found[i].PotentialSavings != found[j].PotentialSavings {
			return found[i].PotentialSavings > found[j].PotentialSavings
		}
		return found[i].RiskLevel.Rank() < found[j].RiskLevel.Rank()
	})
	return found, nil
}

func (d *Discoverer) scanNamespace(ctx context.Context, namespace string) ([]*models.OptimizationOpportunity, error) {
	utilizations, err := d.source.CollectUtilization(ctx, namespace, d.opts.Window)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*models.OptimizationOpportunity
	for _, util := range utilizations {
		rate, err := d.rates.GetRate(ctx, util.Resource.Region)
		if err != nil {
			log.Printf("[WARN] no pricing for %s, skipping %s: %v", util.Resource.Region, util.Workload, err)
			continue
		}

		for _, rule := range d.rules {
			opp := rule.Evaluate(util, rate)
			if opp == nil {
				continue
			}
			if opp.PotentialSavings < d.opts.MinSavings {
				continue
			}
			if opp.ConfidenceScore < d.opts.MinConfidence {
				continue
			}
			opp.State = models.StateDiscovered
			opp.CreatedAt = now
			opp.ExpiresAt = now.Add(d.opts.TTL)
			out = append(out, opp)
		}
	}
	return out, nil
}
