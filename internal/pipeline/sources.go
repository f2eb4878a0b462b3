package pipeline

import (
	"context"
	"net/url"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/sources/chembl"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/sources/crossref"
)

// ChemblSource adapts the ChEMBL client to the pipeline.
type ChemblSource struct {
	Client  *chembl.Client
	Filter  url.Values
	Version string
}

func (s *ChemblSource) Name() string { return chembl.SourceName }

func (s *ChemblSource) Fetch(ctx context.Context) ([]models.Record, error) {
	return s.Client.FetchActivities(ctx, s.Filter)
}

func (s *ChemblSource) DataVersion() string { return s.Version }

// CrossrefSource adapts the Crossref client to the pipeline.
type CrossrefSource struct {
	Client  *crossref.Client
	Filter  url.Values
	Version string
}

func (s *CrossrefSource) Name() string { return crossref.SourceName }

func (s *CrossrefSource) Fetch(ctx context.Context) ([]models.Record, error) {
	return s.Client.FetchWorks(ctx, s.Filter)
}

func (s *CrossrefSource) DataVersion() string { return s.Version }
