package catalog

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/export"
)

// ClientSource resolves the backend client of a connection profile
type ClientSource interface {
	Client(profileID string) (*api.Client, error)
}

// Service provides typed, cached reads of backend resources
type Service struct {
	ctx     context.Context
	clients ClientSource
}

// NewService creates a new catalog service
func NewService(ctx context.Context, clients ClientSource) *Service {
	return &Service{ctx: ctx, clients: clients}
}

// ListDatasets lists datasets, optionally filtered by a search term
func (s *Service) ListDatasets(profileID, search string) ([]Dataset, error) {
	var params map[string]string
	if search != "" {
		params = map[string]string{"search": search}
	}
	var out []Dataset
	if err := s.get(profileID, "datasets", params, &out); err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return out, nil
}

// GetDataset fetches one dataset
func (s *Service) GetDataset(profileID, datasetID string) (*Dataset, error) {
	var out Dataset
	if err := s.get(profileID, "datasets/"+url.PathEscape(datasetID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get dataset %s: %w", datasetID, err)
	}
	return &out, nil
}

// ListDatasetVersions lists the versions of a dataset, newest first as served
func (s *Service) ListDatasetVersions(profileID, datasetID string) ([]DatasetVersion, error) {
	var out []DatasetVersion
	endpoint := fmt.Sprintf("datasets/%s/versions", url.PathEscape(datasetID))
	if err := s.get(profileID, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list versions of dataset %s: %w", datasetID, err)
	}
	return out, nil
}

// ListRepositories lists the repositories whose builds are ingested
func (s *Service) ListRepositories(profileID string) ([]Repository, error) {
	var out []Repository
	if err := s.get(profileID, "repositories", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return out, nil
}

// ListBuilds fetches one page of a repository's build history
func (s *Service) ListBuilds(profileID, repositoryID string, query BuildQuery) (*BuildPage, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, fmt.Errorf("unknown build status %q", query.Status)
	}
	if query.Page < 0 || query.PageSize < 0 {
		return nil, fmt.Errorf("page and page_size must not be negative")
	}

	var out BuildPage
	endpoint := fmt.Sprintf("repositories/%s/builds", url.PathEscape(repositoryID))
	if err := s.get(profileID, endpoint, query.params(), &out); err != nil {
		return nil, fmt.Errorf("failed to list builds of %s: %w", repositoryID, err)
	}
	return &out, nil
}

// GetBuild fetches one build
func (s *Service) GetBuild(profileID, buildID string) (*Build, error) {
	var out Build
	if err := s.get(profileID, "builds/"+url.PathEscape(buildID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get build %s: %w", buildID, err)
	}
	return &out, nil
}

// ListScenarios lists training scenarios
func (s *Service) ListScenarios(profileID string) ([]Scenario, error) {
	var out []Scenario
	if err := s.get(profileID, "scenarios", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	return out, nil
}

// GetScenario fetches one scenario with its splits
func (s *Service) GetScenario(profileID, scenarioID string) (*Scenario, error) {
	var out Scenario
	if err := s.get(profileID, "scenarios/"+url.PathEscape(scenarioID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get scenario %s: %w", scenarioID, err)
	}
	return &out, nil
}

// GetQualityReport fetches the latest scan summary of a repository
func (s *Service) GetQualityReport(profileID, repositoryID string) (*QualityReport, error) {
	var out QualityReport
	endpoint := fmt.Sprintf("repositories/%s/quality", url.PathEscape(repositoryID))
	if err := s.get(profileID, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get quality report of %s: %w", repositoryID, err)
	}
	return &out, nil
}

// GetFeatureDAG fetches the feature dependency graph of a dataset and
// attaches render layers. A cyclic graph is rejected.
func (s *Service) GetFeatureDAG(profileID, datasetID string) (*DAGView, error) {
	return s.featureDAG(s.ctx, profileID, datasetID)
}

// GetDatasetOverview loads a dataset, its versions and its feature graph in
// parallel. A graph that cannot be loaded or laid out is reported in
// GraphError instead of failing the overview.
func (s *Service) GetDatasetOverview(profileID, datasetID string) (*DatasetOverview, error) {
	g, ctx := errgroup.WithContext(s.ctx)
	var out DatasetOverview

	g.Go(func() error {
		endpoint := "datasets/" + url.PathEscape(datasetID)
		if err := s.getCtx(ctx, profileID, endpoint, nil, &out.Dataset); err != nil {
			return fmt.Errorf("failed to get dataset %s: %w", datasetID, err)
		}
		return nil
	})
	g.Go(func() error {
		endpoint := fmt.Sprintf("datasets/%s/versions", url.PathEscape(datasetID))
		if err := s.getCtx(ctx, profileID, endpoint, nil, &out.Versions); err != nil {
			return fmt.Errorf("failed to list versions of dataset %s: %w", datasetID, err)
		}
		return nil
	})
	g.Go(func() error {
		view, err := s.featureDAG(ctx, profileID, datasetID)
		if err != nil {
			out.GraphError = err.Error()
			return nil
		}
		out.Graph = view
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) featureDAG(ctx context.Context, profileID, datasetID string) (*DAGView, error) {
	var dag FeatureDAG
	endpoint := fmt.Sprintf("datasets/%s/features/dag", url.PathEscape(datasetID))
	if err := s.getCtx(ctx, profileID, endpoint, nil, &dag); err != nil {
		return nil, fmt.Errorf("failed to get feature graph of %s: %w", datasetID, err)
	}

	layers, err := dag.Layers()
	if err != nil {
		zap.S().Warnf("Rejected feature graph of dataset %s: %v", datasetID, err)
		return nil, err
	}
	return &DAGView{FeatureDAG: dag, Layers: layers}, nil
}

// Refresh drops every cached read of a profile
func (s *Service) Refresh(profileID string) error {
	client, err := s.clients.Client(profileID)
	if err != nil {
		return err
	}
	client.Invalidate("")
	return nil
}

func (s *Service) get(profileID, endpoint string, params map[string]string, out interface{}) error {
	return s.getCtx(s.ctx, profileID, endpoint, params, out)
}

func (s *Service) getCtx(ctx context.Context, profileID, endpoint string, params map[string]string, out interface{}) error {
	client, err := s.clients.Client(profileID)
	if err != nil {
		return err
	}
	return client.GetCached(ctx, endpoint, params, out)
}

// DatasetVersionTarget binds an export to a dataset version
func DatasetVersionTarget(ds Dataset, v DatasetVersion) export.Target {
	return export.Target{
		Type:       export.ResourceDatasetVersion,
		ResourceID: ds.ID,
		SubID:      v.ID,
		Name:       fmt.Sprintf("%s-v%d", ds.Name, v.Version),
		TotalRows:  v.RowCount,
	}
}

// RepositoryTarget binds an export to a repository's build history
func RepositoryTarget(r Repository) export.Target {
	return export.Target{
		Type:       export.ResourceRepository,
		ResourceID: r.ID,
		Name:       r.FullName + "-builds",
		TotalRows:  r.BuildCount,
	}
}

// ScenarioSplitTarget binds an export to one generated split of a scenario
func ScenarioSplitTarget(sc Scenario, split ScenarioSplit) export.Target {
	return export.Target{
		Type:       export.ResourceScenarioSplit,
		ResourceID: sc.ID,
		SubID:      split.Name,
		Name:       sc.Name + "-" + split.Name,
		TotalRows:  split.RowCount,
	}
}
