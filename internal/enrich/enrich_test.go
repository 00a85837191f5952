package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skeptomenos/portfolio-prism/internal/hive"
	"github.com/skeptomenos/portfolio-prism/internal/model"
)

type fakeLocalCache struct {
	data map[string]hive.Metadata
	puts map[string]hive.Metadata
}

func newFakeLocalCache(data map[string]hive.Metadata) *fakeLocalCache {
	return &fakeLocalCache{data: data, puts: map[string]hive.Metadata{}}
}

func (f *fakeLocalCache) BatchGet(isins []string) map[string]hive.Metadata {
	out := map[string]hive.Metadata{}
	for _, i := range isins {
		if m, ok := f.data[i]; ok {
			out[i] = m
		}
	}
	return out
}

func (f *fakeLocalCache) Put(isinVal string, m hive.Metadata) { f.puts[isinVal] = m }

type fakeHiveSource struct {
	data        map[string]hive.Metadata
	contributed []string
}

func (f *fakeHiveSource) BatchMetadata(ctx context.Context, isins []string) (map[string]hive.Metadata, error) {
	out := map[string]hive.Metadata{}
	for _, i := range isins {
		if m, ok := f.data[i]; ok {
			out[i] = m
		}
	}
	return out, nil
}

func (f *fakeHiveSource) ContributeMetadata(isinVal string, m hive.Metadata) {
	f.contributed = append(f.contributed, isinVal)
}

type fakeAPISource struct {
	data map[string]hive.Metadata
}

func (f *fakeAPISource) CompanyMetadata(ctx context.Context, isinVal string) (hive.Metadata, bool, error) {
	m, ok := f.data[isinVal]
	return m, ok, nil
}

func decompWith(holdings ...model.Holding) []*model.ETFDecomposition {
	return []*model.ETFDecomposition{{ETFISIN: "IE00B4L5Y983", Holdings: holdings}}
}

func TestEnrichLocalCacheHit(t *testing.T) {
	local := newFakeLocalCache(map[string]hive.Metadata{
		"US0378331005": {Sector: "Technology", Geography: "North America"},
	})
	decomps := decompWith(model.Holding{ISIN: "US0378331005", Name: "Apple Inc"})

	stats, _ := Enrich(context.Background(), Config{Local: local}, decomps, nil)
	assert.Equal(t, 1, stats.LocalHits)
	assert.Equal(t, "Technology", decomps[0].Holdings[0].Sector)
	assert.Equal(t, "local_cache", decomps[0].Holdings[0].EnrichmentSource)
}

func TestEnrichFallsThroughToHiveThenAPI(t *testing.T) {
	local := newFakeLocalCache(nil)
	hiveSrc := &fakeHiveSource{data: map[string]hive.Metadata{
		"US0378331005": {Sector: "Technology", Geography: "North America"},
	}}
	api := &fakeAPISource{data: map[string]hive.Metadata{
		"DE0007164600": {Sector: "Consumer Discretionary", Geography: "Europe"},
	}}
	decomps := decompWith(
		model.Holding{ISIN: "US0378331005", Name: "Apple Inc"},
		model.Holding{ISIN: "DE0007164600", Name: "SAP SE"},
	)

	stats, _ := Enrich(context.Background(), Config{Local: local, Hive: hiveSrc, API: api, ContributionEnabled: true}, decomps, nil)
	assert.Equal(t, 1, stats.HiveHits)
	assert.Equal(t, 1, stats.APIHits)
	assert.Equal(t, "hive", decomps[0].Holdings[0].EnrichmentSource)
	assert.Equal(t, "api", decomps[0].Holdings[1].EnrichmentSource)
	assert.Contains(t, hiveSrc.contributed, "DE0007164600")
	assert.Contains(t, local.puts, "US0378331005")
}

func TestEnrichDefaultsOnTotalMiss(t *testing.T) {
	decomps := decompWith(model.Holding{ISIN: "XX0000000000", Name: "Unknown Co"})
	stats, _ := Enrich(context.Background(), Config{}, decomps, nil)
	assert.Equal(t, 1, stats.Unresolved)
	assert.Equal(t, model.DefaultSector, decomps[0].Holdings[0].Sector)
	assert.Equal(t, model.DefaultGeography, decomps[0].Holdings[0].Geography)
	assert.Equal(t, model.HoldingEquity, decomps[0].Holdings[0].AssetClass)
}

func TestEnrichAppliesAssetClass(t *testing.T) {
	local := newFakeLocalCache(map[string]hive.Metadata{
		"US0378331005": {Sector: "Technology", Geography: "North America", AssetClass: "Derivative"},
		"DE0007164600": {Sector: "Technology", Geography: "Europe", AssetClass: "Common Stock"},
	})
	decomps := decompWith(
		model.Holding{ISIN: "US0378331005", Name: "Apple Call 2027", AssetClass: model.HoldingEquity},
		model.Holding{ISIN: "DE0007164600", Name: "SAP SE", AssetClass: model.HoldingEquity},
	)

	Enrich(context.Background(), Config{Local: local}, decomps, nil)
	assert.Equal(t, model.HoldingDerivative, decomps[0].Holdings[0].AssetClass)
	// An unrecognized remote class leaves the decomposer's call standing.
	assert.Equal(t, model.HoldingEquity, decomps[0].Holdings[1].AssetClass)
}

func TestEnrichAnnotatesDirectPositions(t *testing.T) {
	local := newFakeLocalCache(map[string]hive.Metadata{
		"US0378331005": {Sector: "Technology", Geography: "North America"},
	})
	direct := []model.Position{{ISIN: "US0378331005", Name: "Apple Inc"}}

	_, posMeta := Enrich(context.Background(), Config{Local: local}, nil, direct)
	assert.Equal(t, "Technology", posMeta["US0378331005"].Sector)
}

func TestEnrichEmptyInputsNoop(t *testing.T) {
	stats, posMeta := Enrich(context.Background(), Config{}, nil, nil)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, posMeta)
}
