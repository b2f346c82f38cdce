// Package network analyzes the vendor-agency relationship graph. Contracts
// induce a weighted bipartite graph; PageRank centrality, community structure
// and per-agency concentration metrics come out of it.
package network

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

// Analyzer builds and analyzes the bipartite vendor-agency graph.
type Analyzer struct {
	cfg config.NetworkConfig
}

// NewAnalyzer creates an analyzer from config.
func NewAnalyzer(cfg config.NetworkConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// edge is one aggregated vendor-agency relationship.
type edge struct {
	vendor int64
	agency int64
	weight float64 // total contract value across the pair
}

// index assigns interleaved node ids: vendors even, agencies odd. The parity
// trick keeps the two partitions distinguishable without a side table.
type index struct {
	vendorID map[string]int64
	agencyID map[string]int64
	vendors  []string // node id 2*i
	agencies []string // node id 2*i+1
}

func newIndex() *index {
	return &index{
		vendorID: make(map[string]int64),
		agencyID: make(map[string]int64),
	}
}

func (ix *index) vendor(id string) int64 {
	n, ok := ix.vendorID[id]
	if !ok {
		n = int64(2 * len(ix.vendors))
		ix.vendorID[id] = n
		ix.vendors = append(ix.vendors, id)
	}
	return n
}

func (ix *index) agency(id string) int64 {
	n, ok := ix.agencyID[id]
	if !ok {
		n = int64(2*len(ix.agencies) + 1)
		ix.agencyID[id] = n
		ix.agencies = append(ix.agencies, id)
	}
	return n
}

// Analyze runs the full graph analysis. Community detection failure degrades
// the result to singleton communities rather than failing the run; every
// other stage error is fatal.
func (a *Analyzer) Analyze(ctx context.Context, contracts []model.Contract) (*model.NetworkResult, error) {
	if len(contracts) == 0 {
		return nil, eris.New("network: no contracts to analyze")
	}

	ix := newIndex()
	edges, agencyVendorValue, agencyTotals, agencyCounts := a.aggregate(contracts, ix)

	undirected := simple.NewWeightedUndirectedGraph(0, 0)
	directed := simple.NewWeightedDirectedGraph(0, 0)
	if err := a.addEdges(ctx, undirected, directed, edges); err != nil {
		return nil, err
	}

	ranks := network.PageRank(directed, a.cfg.PageRankDamping, a.cfg.PageRankTolerance)
	percentiles := vendorPercentiles(ix, ranks)

	comms, modularity, communityCount, degraded := a.communities(undirected, ix)

	result := &model.NetworkResult{
		Vendors:        make(map[string]model.VendorMetrics, len(ix.vendors)),
		Agencies:       make(map[string]model.AgencyMetrics, len(ix.agencies)),
		CommunityCount: communityCount,
		Modularity:     modularity,
		Degraded:       degraded,
	}

	for i, vid := range ix.vendors {
		node := int64(2 * i)
		result.Vendors[vid] = model.VendorMetrics{
			VendorID:       vid,
			PageRank:       ranks[node],
			RankPercentile: percentiles[vid],
			CommunityID:    comms[node],
			Degree:         undirected.From(node).Len(),
		}
	}

	for i, aid := range ix.agencies {
		node := int64(2*i + 1)
		m := a.agencyMetrics(aid, agencyVendorValue[aid], agencyTotals[aid], agencyCounts[aid])
		m.CommunityID = comms[node]
		result.Agencies[aid] = m
	}

	zap.L().Info("network: analysis complete",
		zap.Int("vendors", len(ix.vendors)),
		zap.Int("agencies", len(ix.agencies)),
		zap.Int("edges", len(edges)),
		zap.Int("communities", communityCount),
		zap.Float64("modularity", modularity),
		zap.Bool("degraded", degraded),
	)

	return result, nil
}

// aggregate collapses contracts into weighted pair edges plus the per-agency
// value breakdowns needed for concentration metrics.
func (a *Analyzer) aggregate(contracts []model.Contract, ix *index) (
	[]edge,
	map[string]map[string]float64, // agency -> vendor -> value
	map[string]float64, // agency -> total value
	map[string]int, // agency -> contract count
) {
	pairValue := make(map[model.PairKey]float64)
	byAgency := make(map[string]map[string]float64)
	totals := make(map[string]float64)
	counts := make(map[string]int)

	for i := range contracts {
		c := &contracts[i]
		pairValue[model.PairKey{VendorID: c.VendorID, AgencyID: c.AgencyID}] += c.Value
		if byAgency[c.AgencyID] == nil {
			byAgency[c.AgencyID] = make(map[string]float64)
		}
		byAgency[c.AgencyID][c.VendorID] += c.Value
		totals[c.AgencyID] += c.Value
		counts[c.AgencyID]++
	}

	edges := make([]edge, 0, len(pairValue))
	for pair, w := range pairValue {
		edges = append(edges, edge{
			vendor: ix.vendor(pair.VendorID),
			agency: ix.agency(pair.AgencyID),
			weight: w,
		})
	}
	// Deterministic graph construction regardless of map iteration order.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].vendor != edges[j].vendor {
			return edges[i].vendor < edges[j].vendor
		}
		return edges[i].agency < edges[j].agency
	})

	return edges, byAgency, totals, counts
}

// addEdges loads the aggregated edges into both graph views in chunks, so a
// canceled context is honored even on very large graphs. PageRank needs a
// directed graph; the bipartite relation is symmetric, so each edge becomes a
// reciprocal pair.
func (a *Analyzer) addEdges(ctx context.Context, undirected *simple.WeightedUndirectedGraph, directed *simple.WeightedDirectedGraph, edges []edge) error {
	chunk := a.cfg.EdgeChunkSize
	if chunk <= 0 {
		chunk = 100_000
	}
	for start := 0; start < len(edges); start += chunk {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "network: edge ingestion canceled")
		}
		end := start + chunk
		if end > len(edges) {
			end = len(edges)
		}
		for _, e := range edges[start:end] {
			v, g := simple.Node(e.vendor), simple.Node(e.agency)
			undirected.SetWeightedEdge(simple.WeightedEdge{F: v, T: g, W: e.weight})
			directed.SetWeightedEdge(simple.WeightedEdge{F: v, T: g, W: e.weight})
			directed.SetWeightedEdge(simple.WeightedEdge{F: g, T: v, W: e.weight})
		}
	}
	return nil
}

// communities runs modularity maximization with a bounded number of perturbed
// seeds. A NaN modularity means the optimizer did not converge on that seed;
// after the retries run out, every node becomes its own community and the
// result is marked degraded.
func (a *Analyzer) communities(g *simple.WeightedUndirectedGraph, ix *index) (map[int64]int, float64, int, bool) {
	retries := a.cfg.CommunityRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		src := rand.NewPCG(uint64(a.cfg.CommunitySeed), uint64(a.cfg.CommunitySeed)+uint64(attempt))
		reduced := community.Modularize(g, a.cfg.ModularityResolution, src)
		groups := reduced.Communities()
		q := community.Q(g, groups, a.cfg.ModularityResolution)
		if math.IsNaN(q) {
			zap.L().Warn("network: community detection did not converge",
				zap.Int("attempt", attempt+1))
			continue
		}

		return canonicalAssignment(groups, ix.size()), q, len(groups), false
	}

	// Degraded: singleton communities.
	assignment := make(map[int64]int, ix.size())
	next := 0
	for i := range ix.vendors {
		assignment[int64(2*i)] = next
		next++
	}
	for i := range ix.agencies {
		assignment[int64(2*i+1)] = next
		next++
	}
	return assignment, 0, next, true
}

func (ix *index) size() int { return len(ix.vendors) + len(ix.agencies) }

// canonicalAssignment relabels the detected communities so the assignment is
// a pure function of the partition. Modularize returns groups in map
// iteration order, which permutes labels across otherwise identical runs;
// community IDs are persisted, so the labels must be reproducible too. Groups
// are ordered by their smallest member node ID and renumbered from zero.
func canonicalAssignment(groups [][]graph.Node, size int) map[int64]int {
	type grp struct {
		min   int64
		nodes []graph.Node
	}
	ordered := make([]grp, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		min := group[0].ID()
		for _, n := range group[1:] {
			if n.ID() < min {
				min = n.ID()
			}
		}
		ordered = append(ordered, grp{min: min, nodes: group})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].min < ordered[j].min })

	assignment := make(map[int64]int, size)
	for id, g := range ordered {
		for _, n := range g.nodes {
			assignment[n.ID()] = id
		}
	}
	return assignment
}

// agencyMetrics computes the concentration surface for one agency. HHI is the
// sum of squared vendor value shares; the concentration flag fires when a
// single vendor holds a strict majority of the agency's spend.
func (a *Analyzer) agencyMetrics(agencyID string, vendorValue map[string]float64, total float64, count int) model.AgencyMetrics {
	m := model.AgencyMetrics{
		AgencyID:      agencyID,
		TotalValue:    total,
		ContractCount: count,
	}
	if total <= 0 {
		return m
	}

	for vid, v := range vendorValue {
		share := v / total
		m.HHI += share * share
		if share > m.TopVendorShare ||
			(share == m.TopVendorShare && vid < m.TopVendorID) {
			m.TopVendorShare = share
			m.TopVendorID = vid
		}
	}
	m.ConcentrationFlag = m.TopVendorShare > a.cfg.MajorityThreshold
	return m
}

// vendorPercentiles converts raw PageRank values to percentile ranks within
// the vendor partition only, so agency nodes do not distort the scale.
func vendorPercentiles(ix *index, ranks map[int64]float64) map[string]float64 {
	n := len(ix.vendors)
	out := make(map[string]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[ix.vendors[0]] = 1
		return out
	}

	type vr struct {
		id   string
		rank float64
	}
	all := make([]vr, n)
	for i, vid := range ix.vendors {
		all[i] = vr{id: vid, rank: ranks[int64(2*i)]}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].rank < all[j].rank })

	i := 0
	for i < n {
		j := i
		for j < n-1 && all[j+1].rank == all[i].rank {
			j++
		}
		avg := (float64(i+j)/2 + 1) / float64(n)
		for k := i; k <= j; k++ {
			out[all[k].id] = avg
		}
		i = j + 1
	}
	return out
}
